package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/store"
)

// tsLayout is fixed-width so that timestamps sort lexicographically in the
// alerts index.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// alertsIndex is a sparse GSI on the records table: only committed alerts
// carry alert_state, keyed by alert_state (hash) and ts (range).
const alertsIndex = "alerts-by-time"

const alertStateSent = "sent"

var _ store.Store = (*Store)(nil)

// Store is the DynamoDB-backed store.Store.
type Store struct {
	db       dynamodbiface.DynamoDBAPI
	readings string
	devices  string
	records  string
	leases   string
}

// Open builds a Store from a new AWS session. endpoint may be empty; set it
// to point at DynamoDB Local.
func Open(region, endpoint, tablePrefix string) (*Store, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("dynamostore: new session: %w", err)
	}
	return New(dynamodb.New(sess), tablePrefix), nil
}

// New wraps an existing DynamoDB client.
func New(db dynamodbiface.DynamoDBAPI, tablePrefix string) *Store {
	return &Store{
		db:       db,
		readings: tablePrefix + "readings",
		devices:  tablePrefix + "device_states",
		records:  tablePrefix + "records",
		leases:   tablePrefix + "leases",
	}
}

func (s *Store) InsertReading(ctx context.Context, r *types.Reading) error {
	if r.ID == "" {
		r.ID = store.NewID()
	}
	item, err := dynamodbattribute.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("dynamostore: marshal reading: %w", err)
	}
	if _, err := s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.readings),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamostore: put reading: %w", err)
	}
	return nil
}

// deviceItem is the flat item layout of the device_states table. Nested maps
// would prevent field-level upserts with if_not_exists.
type deviceItem struct {
	Kind            string     `dynamodbav:"kind"`
	Brightness      *int       `dynamodbav:"brightness,omitempty"`
	Color           string     `dynamodbav:"color,omitempty"`
	BeepCount       *int       `dynamodbav:"beep_count,omitempty"`
	BeepDurationMs  *int       `dynamodbav:"beep_duration_ms,omitempty"`
	IntervalMs      *int       `dynamodbav:"interval_ms,omitempty"`
	LastTriggeredAt *time.Time `dynamodbav:"last_triggered_at,omitempty"`
	UpdatedAt       time.Time  `dynamodbav:"updated_at"`
}

func (d deviceItem) toState() *types.DeviceState {
	ds := &types.DeviceState{Kind: types.DeviceKind(d.Kind), UpdatedAt: d.UpdatedAt}
	switch ds.Kind {
	case types.DeviceIndicator:
		ind := &types.IndicatorState{Brightness: types.DefaultBrightness, Color: types.Color(d.Color)}
		if d.Brightness != nil {
			ind.Brightness = *d.Brightness
		}
		ds.Indicator = ind
	case types.DeviceAlarm:
		cfg := types.DefaultAlarmConfig()
		if d.BeepCount != nil {
			cfg.BeepCount = *d.BeepCount
		}
		if d.BeepDurationMs != nil {
			cfg.BeepDurationMs = *d.BeepDurationMs
		}
		if d.IntervalMs != nil {
			cfg.IntervalMs = *d.IntervalMs
		}
		ds.Alarm = &types.AlarmState{Config: cfg, LastTriggeredAt: d.LastTriggeredAt}
	}
	return ds
}

func (s *Store) DeviceState(ctx context.Context, kind types.DeviceKind) (*types.DeviceState, error) {
	out, err := s.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.devices),
		Key:            map[string]*dynamodb.AttributeValue{"kind": {S: aws.String(string(kind))}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: get %s state: %w", kind, err)
	}
	if len(out.Item) == 0 {
		return nil, store.ErrNotFound
	}
	var item deviceItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamostore: unmarshal %s state: %w", kind, err)
	}
	return item.toState(), nil
}

func (s *Store) SetIndicatorColor(ctx context.Context, c types.Color, at time.Time) error {
	_, err := s.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.devices),
		Key:              map[string]*dynamodb.AttributeValue{"kind": {S: aws.String(string(types.DeviceIndicator))}},
		UpdateExpression: aws.String("SET color = :c, updated_at = :u, brightness = if_not_exists(brightness, :b)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":c": {S: aws.String(string(c))},
			":u": {S: aws.String(at.UTC().Format(time.RFC3339Nano))},
			":b": {N: aws.String(strconv.Itoa(types.DefaultBrightness))},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamostore: set indicator color: %w", err)
	}
	return nil
}

func (s *Store) EnsureAlarm(ctx context.Context, cfg types.AlarmConfig, at time.Time) error {
	_, err := s.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.devices),
		Key:       map[string]*dynamodb.AttributeValue{"kind": {S: aws.String(string(types.DeviceAlarm))}},
		UpdateExpression: aws.String("SET beep_count = if_not_exists(beep_count, :bc), " +
			"beep_duration_ms = if_not_exists(beep_duration_ms, :bd), " +
			"interval_ms = if_not_exists(interval_ms, :iv), " +
			"updated_at = if_not_exists(updated_at, :u)"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":bc": {N: aws.String(strconv.Itoa(cfg.BeepCount))},
			":bd": {N: aws.String(strconv.Itoa(cfg.BeepDurationMs))},
			":iv": {N: aws.String(strconv.Itoa(cfg.IntervalMs))},
			":u":  {S: aws.String(at.UTC().Format(time.RFC3339Nano))},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamostore: ensure alarm: %w", err)
	}
	return nil
}

func (s *Store) MarkAlarmTriggered(ctx context.Context, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := s.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.devices),
		Key:                 map[string]*dynamodb.AttributeValue{"kind": {S: aws.String(string(types.DeviceAlarm))}},
		UpdateExpression:    aws.String("SET last_triggered_at = :t, updated_at = :t"),
		ConditionExpression: aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]*string{
			"#k": aws.String("kind"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":t": {S: aws.String(ts)},
		},
	})
	if isConditionFailed(err) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("dynamostore: mark alarm triggered: %w", err)
	}
	return nil
}

func (s *Store) InsertRecord(ctx context.Context, rec *types.Record) error {
	if rec.ID == "" {
		rec.ID = store.NewID()
	}
	item, err := recordItem(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.records),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamostore: put record: %w", err)
	}
	return nil
}

func (s *Store) LatestAlert(ctx context.Context, since time.Time) (*types.Record, error) {
	out, err := s.db.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.records),
		IndexName:              aws.String(alertsIndex),
		KeyConditionExpression: aws.String("alert_state = :s AND ts >= :since"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":s":     {S: aws.String(alertStateSent)},
			":since": {S: aws.String(since.UTC().Format(tsLayout))},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int64(1),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: latest alert: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, store.ErrNotFound
	}
	var rec types.Record
	if err := dynamodbattribute.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("dynamostore: unmarshal record: %w", err)
	}
	return &rec, nil
}

// Reserve claims the lease item with a conditional put, then writes the
// pending record. A failed condition means the window is still held.
func (s *Store) Reserve(ctx context.Context, rec *types.Record, window time.Duration) error {
	if rec.ID == "" {
		rec.ID = store.NewID()
	}
	now := strconv.FormatInt(rec.Timestamp.UnixNano(), 10)
	expires := strconv.FormatInt(rec.Timestamp.Add(window).UnixNano(), 10)

	_, err := s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.leases),
		Item: map[string]*dynamodb.AttributeValue{
			"lease_key":  {S: aws.String(store.LeaseKey)},
			"holder":     {S: aws.String(rec.ID)},
			"expires_at": {N: aws.String(expires)},
		},
		ConditionExpression: aws.String("attribute_not_exists(lease_key) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":now": {N: aws.String(now)},
		},
	})
	if isConditionFailed(err) {
		return store.ErrCooldownActive
	}
	if err != nil {
		return fmt.Errorf("dynamostore: acquire lease: %w", err)
	}

	pending := *rec
	pending.AlertSent = false
	item, err := recordItem(&pending)
	if err == nil {
		_, err = s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.records),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		})
	}
	if err != nil {
		if rerr := s.releaseLease(ctx, rec.ID); rerr != nil {
			return fmt.Errorf("dynamostore: put reservation: %w (lease release: %v)", err, rerr)
		}
		return fmt.Errorf("dynamostore: put reservation: %w", err)
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, id string) error {
	_, err := s.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.records),
		Key:                 map[string]*dynamodb.AttributeValue{"id": {S: aws.String(id)}},
		UpdateExpression:    aws.String("SET alert_sent = :t, alert_state = :s"),
		ConditionExpression: aws.String("attribute_exists(id) AND alert_sent = :f"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":t": {BOOL: aws.Bool(true)},
			":f": {BOOL: aws.Bool(false)},
			":s": {S: aws.String(alertStateSent)},
		},
	})
	if isConditionFailed(err) {
		return store.ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("dynamostore: commit %s: %w", id, err)
	}
	return nil
}

func (s *Store) Rollback(ctx context.Context, id string) error {
	_, err := s.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.records),
		Key:                 map[string]*dynamodb.AttributeValue{"id": {S: aws.String(id)}},
		ConditionExpression: aws.String("attribute_exists(id) AND alert_sent = :f"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":f": {BOOL: aws.Bool(false)},
		},
	})
	if isConditionFailed(err) {
		return store.ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("dynamostore: rollback %s: %w", id, err)
	}
	if err := s.releaseLease(ctx, id); err != nil {
		return fmt.Errorf("dynamostore: rollback %s: %w", id, err)
	}
	return nil
}

// releaseLease deletes the lease only if holder still owns it.
func (s *Store) releaseLease(ctx context.Context, holder string) error {
	_, err := s.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.leases),
		Key:                 map[string]*dynamodb.AttributeValue{"lease_key": {S: aws.String(store.LeaseKey)}},
		ConditionExpression: aws.String("holder = :h"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":h": {S: aws.String(holder)},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.records),
	})
	if err != nil {
		return fmt.Errorf("dynamostore: describe %s: %w", s.records, err)
	}
	return nil
}

func (s *Store) Close(context.Context) error { return nil }

// recordItem marshals rec and adds the index attributes.
func recordItem(rec *types.Record) (map[string]*dynamodb.AttributeValue, error) {
	item, err := dynamodbattribute.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("dynamostore: marshal record: %w", err)
	}
	item["ts"] = &dynamodb.AttributeValue{S: aws.String(rec.Timestamp.UTC().Format(tsLayout))}
	if rec.AlertSent {
		item["alert_state"] = &dynamodb.AttributeValue{S: aws.String(alertStateSent)}
	}
	return item, nil
}

func isConditionFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/store"
)

// Collection names.
const (
	colReadings = "readings"
	colDevices  = "device_states"
	colRecords  = "classification_records"
	colLeases   = "alert_leases"
)

var _ store.Store = (*Store)(nil)

// Store is the MongoDB-backed store.Store.
type Store struct {
	client   *mongo.Client
	readings *mongo.Collection
	devices  *mongo.Collection
	records  *mongo.Collection
	leases   *mongo.Collection
}

// Open connects to uri, verifies the primary is reachable, and creates the
// indexes the pipeline relies on.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		readings: db.Collection(colReadings),
		devices:  db.Collection(colDevices),
		records:  db.Collection(colRecords),
		leases:   db.Collection(colLeases),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.readings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	}); err != nil {
		return fmt.Errorf("mongostore: readings index: %w", err)
	}
	if _, err := s.devices.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "kind", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("mongostore: device_states index: %w", err)
	}
	if _, err := s.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "alert_sent", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("mongostore: records indexes: %w", err)
	}
	return nil
}

func (s *Store) InsertReading(ctx context.Context, r *types.Reading) error {
	if r.ID == "" {
		r.ID = store.NewID()
	}
	if _, err := s.readings.InsertOne(ctx, r); err != nil {
		return fmt.Errorf("mongostore: insert reading: %w", err)
	}
	return nil
}

func (s *Store) DeviceState(ctx context.Context, kind types.DeviceKind) (*types.DeviceState, error) {
	var ds types.DeviceState
	err := s.devices.FindOne(ctx, bson.D{{Key: "kind", Value: kind}}).Decode(&ds)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: find %s state: %w", kind, err)
	}
	return &ds, nil
}

func (s *Store) SetIndicatorColor(ctx context.Context, c types.Color, at time.Time) error {
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "indicator.color", Value: c},
			{Key: "updated_at", Value: at},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "indicator.brightness", Value: types.DefaultBrightness},
		}},
	}
	_, err := s.devices.UpdateOne(ctx,
		bson.D{{Key: "kind", Value: types.DeviceIndicator}},
		update,
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongostore: set indicator color: %w", err)
	}
	return nil
}

func (s *Store) EnsureAlarm(ctx context.Context, cfg types.AlarmConfig, at time.Time) error {
	update := bson.D{
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "alarm", Value: types.AlarmState{Config: cfg}},
			{Key: "updated_at", Value: at},
		}},
	}
	_, err := s.devices.UpdateOne(ctx,
		bson.D{{Key: "kind", Value: types.DeviceAlarm}},
		update,
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongostore: ensure alarm: %w", err)
	}
	return nil
}

func (s *Store) MarkAlarmTriggered(ctx context.Context, at time.Time) error {
	res, err := s.devices.UpdateOne(ctx,
		bson.D{{Key: "kind", Value: types.DeviceAlarm}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "alarm.last_triggered_at", Value: at},
			{Key: "updated_at", Value: at},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mongostore: mark alarm triggered: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertRecord(ctx context.Context, rec *types.Record) error {
	if rec.ID == "" {
		rec.ID = store.NewID()
	}
	if _, err := s.records.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("mongostore: insert record: %w", err)
	}
	return nil
}

func (s *Store) LatestAlert(ctx context.Context, since time.Time) (*types.Record, error) {
	var rec types.Record
	err := s.records.FindOne(ctx,
		bson.D{
			{Key: "alert_sent", Value: true},
			{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}},
		},
		options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}}),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: latest alert: %w", err)
	}
	return &rec, nil
}

// Reserve claims the lease document with a conditional upsert. When the
// lease exists and has not expired the filter misses, the upsert collides on
// _id, and the duplicate key error means the window is still held.
func (s *Store) Reserve(ctx context.Context, rec *types.Record, window time.Duration) error {
	if rec.ID == "" {
		rec.ID = store.NewID()
	}
	err := s.leases.FindOneAndUpdate(ctx,
		leaseFilter(rec.Timestamp),
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "holder", Value: rec.ID},
			{Key: "acquired_at", Value: rec.Timestamp},
			{Key: "expires_at", Value: rec.Timestamp.Add(window)},
		}}},
		options.FindOneAndUpdate().SetUpsert(true),
	).Err()
	switch {
	case err == nil, errors.Is(err, mongo.ErrNoDocuments):
		// Acquired: either an expired lease was taken over or a new one inserted.
	case mongo.IsDuplicateKeyError(err):
		return store.ErrCooldownActive
	default:
		return fmt.Errorf("mongostore: acquire lease: %w", err)
	}

	pending := *rec
	pending.AlertSent = false
	if _, err := s.records.InsertOne(ctx, &pending); err != nil {
		if rerr := s.releaseLease(ctx, rec.ID); rerr != nil {
			return fmt.Errorf("mongostore: insert reservation: %w (lease release: %v)", err, rerr)
		}
		return fmt.Errorf("mongostore: insert reservation: %w", err)
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, id string) error {
	res, err := s.records.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "alert_sent", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "alert_sent", Value: true}}}},
	)
	if err != nil {
		return fmt.Errorf("mongostore: commit %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return store.ErrReservationNotFound
	}
	return nil
}

func (s *Store) Rollback(ctx context.Context, id string) error {
	res, err := s.records.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}, {Key: "alert_sent", Value: false}})
	if err != nil {
		return fmt.Errorf("mongostore: rollback %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return store.ErrReservationNotFound
	}
	if err := s.releaseLease(ctx, id); err != nil {
		return fmt.Errorf("mongostore: rollback %s: %w", id, err)
	}
	return nil
}

func (s *Store) releaseLease(ctx context.Context, holder string) error {
	_, err := s.leases.DeleteOne(ctx, bson.D{
		{Key: "_id", Value: store.LeaseKey},
		{Key: "holder", Value: holder},
	})
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func leaseFilter(now time.Time) bson.D {
	return bson.D{
		{Key: "_id", Value: store.LeaseKey},
		{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}},
	}
}

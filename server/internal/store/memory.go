package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/airguard/airguard/pkg/types"
)

type lease struct {
	holder    string
	expiresAt time.Time
}

var _ Store = (*Memory)(nil)

// Memory is a thread-safe in-process Store. A background goroutine (Run)
// evicts readings and records older than the configured retention.
// Nothing survives a restart, so it suits tests and single-node trials.
type Memory struct {
	mu        sync.RWMutex
	readings  []*types.Reading
	devices   map[types.DeviceKind]*types.DeviceState
	records   map[string]*types.Record
	lease     *lease
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

// NewMemory creates a Memory store. A zero retention keeps everything.
func NewMemory(retention time.Duration) *Memory {
	return &Memory{
		devices:   make(map[types.DeviceKind]*types.DeviceState),
		records:   make(map[string]*types.Record),
		retention: retention,
		now:       time.Now,
	}
}

// InsertReading appends a copy of r.
func (m *Memory) InsertReading(_ context.Context, r *types.Reading) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	cp := *r
	m.mu.Lock()
	m.readings = append(m.readings, &cp)
	m.mu.Unlock()
	return nil
}

// Readings returns copies of all stored readings in insertion order.
func (m *Memory) Readings() []types.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Reading, 0, len(m.readings))
	for _, r := range m.readings {
		out = append(out, *r)
	}
	return out
}

// DeviceState returns a copy of the record for kind.
func (m *Memory) DeviceState(_ context.Context, kind types.DeviceKind) (*types.DeviceState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.devices[kind]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDevice(ds), nil
}

// PutDeviceState replaces the record for ds.Kind. It stands in for the
// external configuration writer.
func (m *Memory) PutDeviceState(ds types.DeviceState) {
	m.mu.Lock()
	m.devices[ds.Kind] = copyDevice(&ds)
	m.mu.Unlock()
}

func (m *Memory) SetIndicatorColor(_ context.Context, c types.Color, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.devices[types.DeviceIndicator]
	if !ok {
		ds = &types.DeviceState{Kind: types.DeviceIndicator}
		m.devices[types.DeviceIndicator] = ds
	}
	if ds.Indicator == nil {
		ds.Indicator = &types.IndicatorState{Brightness: types.DefaultBrightness}
	}
	ds.Indicator.Color = c
	ds.UpdatedAt = at
	return nil
}

func (m *Memory) EnsureAlarm(_ context.Context, cfg types.AlarmConfig, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.devices[types.DeviceAlarm]; ok && ds.Alarm != nil {
		return nil
	}
	m.devices[types.DeviceAlarm] = &types.DeviceState{
		Kind:      types.DeviceAlarm,
		Alarm:     &types.AlarmState{Config: cfg},
		UpdatedAt: at,
	}
	return nil
}

func (m *Memory) MarkAlarmTriggered(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.devices[types.DeviceAlarm]
	if !ok || ds.Alarm == nil {
		return ErrNotFound
	}
	t := at
	ds.Alarm.LastTriggeredAt = &t
	ds.UpdatedAt = at
	return nil
}

// InsertRecord stores a copy of rec, assigning rec.ID if it is empty.
func (m *Memory) InsertRecord(_ context.Context, rec *types.Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	cp := copyRecord(rec)
	m.mu.Lock()
	m.records[cp.ID] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) LatestAlert(_ context.Context, since time.Time) (*types.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *types.Record
	for _, r := range m.records {
		if !r.AlertSent || r.Timestamp.Before(since) {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return copyRecord(latest), nil
}

// Reserve claims the lease and inserts rec under a single lock, so a second
// concurrent caller always observes the first one's lease.
func (m *Memory) Reserve(_ context.Context, rec *types.Record, window time.Duration) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease != nil && m.lease.expiresAt.After(rec.Timestamp) {
		return ErrCooldownActive
	}
	m.lease = &lease{holder: rec.ID, expiresAt: rec.Timestamp.Add(window)}
	cp := copyRecord(rec)
	cp.AlertSent = false
	m.records[cp.ID] = cp
	return nil
}

func (m *Memory) Commit(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.AlertSent {
		return ErrReservationNotFound
	}
	r.AlertSent = true
	return nil
}

func (m *Memory) Rollback(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.AlertSent {
		return ErrReservationNotFound
	}
	delete(m.records, id)
	if m.lease != nil && m.lease.holder == id {
		m.lease = nil
	}
	return nil
}

// Records returns copies of all records sorted by timestamp.
func (m *Memory) Records() []types.Record {
	m.mu.RLock()
	out := make([]types.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *copyRecord(r))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close(context.Context) error { return nil }

// Evict removes readings and records older than now minus retention. Pending
// reservations are kept. It returns the number of entries removed.
func (m *Memory) Evict(now time.Time) int {
	if m.retention <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.retention)
	removed := 0

	kept := m.readings[:0]
	for _, r := range m.readings {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		} else {
			removed++
		}
	}
	for i := len(kept); i < len(m.readings); i++ {
		m.readings[i] = nil
	}
	m.readings = kept

	for id, r := range m.records {
		if r.Timestamp.After(cutoff) || (m.lease != nil && m.lease.holder == id && !r.AlertSent) {
			continue
		}
		delete(m.records, id)
		removed++
	}
	return removed
}

// Run starts the background retention loop. It ticks at a tenth of the
// retention (minimum 1 second). Run blocks until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	if m.retention <= 0 {
		<-ctx.Done()
		return
	}
	interval := m.retention / 10
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Evict(m.now()); n > 0 {
				slog.Debug("store: evicted expired entries", "count", n)
			}
		}
	}
}

// copyRecord returns a record that shares no memory with r.
func copyRecord(r *types.Record) *types.Record {
	cp := *r
	if r.AlarmConfig != nil {
		ac := *r.AlarmConfig
		cp.AlarmConfig = &ac
	}
	if r.ProblematicAttributes != nil {
		cp.ProblematicAttributes = append([]types.Attribute(nil), r.ProblematicAttributes...)
	}
	return &cp
}

func copyDevice(ds *types.DeviceState) *types.DeviceState {
	cp := *ds
	if ds.Indicator != nil {
		ind := *ds.Indicator
		cp.Indicator = &ind
	}
	if ds.Alarm != nil {
		al := *ds.Alarm
		if ds.Alarm.LastTriggeredAt != nil {
			t := *ds.Alarm.LastTriggeredAt
			al.LastTriggeredAt = &t
		}
		cp.Alarm = &al
	}
	return &cp
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/airguard/airguard/pkg/types"
)

var (
	// ErrNotFound is returned when a device state record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrCooldownActive is returned by Reserve when another reservation or a
	// committed alert still holds the cooldown lease.
	ErrCooldownActive = errors.New("store: cooldown lease held")

	// ErrReservationNotFound is returned by Commit and Rollback when the
	// record is absent or no longer a pending reservation.
	ErrReservationNotFound = errors.New("store: reservation not found")
)

// LeaseKey scopes the cooldown lease. Alerts share one global window.
const LeaseKey = "global"

// Readings is the append-only telemetry log.
type Readings interface {
	// InsertReading stores r, assigning r.ID if it is empty.
	InsertReading(ctx context.Context, r *types.Reading) error
}

// DeviceStates is the keyed desired-state store. Writes are field-level
// upserts so the pipeline and external configuration writers do not clobber
// each other's fields.
type DeviceStates interface {
	// DeviceState returns the record for kind, or ErrNotFound.
	DeviceState(ctx context.Context, kind types.DeviceKind) (*types.DeviceState, error)

	// SetIndicatorColor upserts only the indicator color. Brightness is set
	// to the default when the record is created and left alone otherwise.
	SetIndicatorColor(ctx context.Context, c types.Color, at time.Time) error

	// EnsureAlarm creates the alarm record with cfg if none exists.
	EnsureAlarm(ctx context.Context, cfg types.AlarmConfig, at time.Time) error

	// MarkAlarmTriggered stamps the alarm's last trigger time.
	MarkAlarmTriggered(ctx context.Context, at time.Time) error
}

// Records is the classification ledger plus the cooldown reservation.
type Records interface {
	// InsertRecord writes a record on the non-alerting path.
	InsertRecord(ctx context.Context, rec *types.Record) error

	// LatestAlert returns the newest record with AlertSent=true and a
	// timestamp at or after since, or ErrNotFound.
	LatestAlert(ctx context.Context, since time.Time) (*types.Record, error)

	// Reserve atomically claims the cooldown lease for window starting at
	// rec.Timestamp and inserts rec with AlertSent=false. It returns
	// ErrCooldownActive if the lease is held and unexpired.
	Reserve(ctx context.Context, rec *types.Record, window time.Duration) error

	// Commit flips a pending reservation to AlertSent=true.
	Commit(ctx context.Context, id string) error

	// Rollback deletes a pending reservation and releases its lease.
	Rollback(ctx context.Context, id string) error
}

// Store is the full persistence surface used by the pipeline.
type Store interface {
	Readings
	DeviceStates
	Records

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend connections.
	Close(ctx context.Context) error
}

// NewID returns a fresh identifier for readings and records.
func NewID() string {
	return uuid.NewString()
}

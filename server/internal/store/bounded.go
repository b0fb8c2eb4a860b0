package store

import (
	"context"
	"time"

	"github.com/airguard/airguard/pkg/types"
)

// bounded applies a per-call deadline to every store operation.
type bounded struct {
	inner   Store
	timeout time.Duration
}

// Bounded wraps s so that no call can outlive timeout, even when the caller's
// context has no deadline.
func Bounded(s Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return s
	}
	return &bounded{inner: s, timeout: timeout}
}

func (b *bounded) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, b.timeout)
}

func (b *bounded) InsertReading(ctx context.Context, r *types.Reading) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.InsertReading(ctx, r)
}

func (b *bounded) DeviceState(ctx context.Context, kind types.DeviceKind) (*types.DeviceState, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.DeviceState(ctx, kind)
}

func (b *bounded) SetIndicatorColor(ctx context.Context, c types.Color, at time.Time) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.SetIndicatorColor(ctx, c, at)
}

func (b *bounded) EnsureAlarm(ctx context.Context, cfg types.AlarmConfig, at time.Time) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.EnsureAlarm(ctx, cfg, at)
}

func (b *bounded) MarkAlarmTriggered(ctx context.Context, at time.Time) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.MarkAlarmTriggered(ctx, at)
}

func (b *bounded) InsertRecord(ctx context.Context, rec *types.Record) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.InsertRecord(ctx, rec)
}

func (b *bounded) LatestAlert(ctx context.Context, since time.Time) (*types.Record, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.LatestAlert(ctx, since)
}

func (b *bounded) Reserve(ctx context.Context, rec *types.Record, window time.Duration) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.Reserve(ctx, rec, window)
}

func (b *bounded) Commit(ctx context.Context, id string) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.Commit(ctx, id)
}

func (b *bounded) Rollback(ctx context.Context, id string) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.Rollback(ctx, id)
}

func (b *bounded) Ping(ctx context.Context) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	return b.inner.Ping(ctx)
}

func (b *bounded) Close(ctx context.Context) error {
	return b.inner.Close(ctx)
}

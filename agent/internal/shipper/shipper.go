package shipper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/airguard/airguard/agent/internal/config"
	"github.com/airguard/airguard/pkg/backoff"
	"github.com/airguard/airguard/pkg/types"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 60 * time.Second
)

// errPermanent marks a reading that can never be published and must not be
// retried.
var errPermanent = errors.New("shipper: unpublishable reading")

// Publisher is an open broker session.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// dialFunc opens a broker session. Abstracted so tests can inject a fake.
type dialFunc func(ctx context.Context, cfg config.AgentConfig) (Publisher, error)

// Shipper buffers readings and publishes them on the telemetry topic.
// Ship() is non-blocking; when the buffer is full the oldest reading is evicted.
// Run() must be called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan types.Reading
	dialFn dialFunc

	boInitial, boMax time.Duration

	shipped atomic.Uint64
	evicted atomic.Uint64
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:       cfg,
		buf:       make(chan types.Reading, cfg.BufferSize),
		dialFn:    dialMQTT,
		boInitial: backoffInitial,
		boMax:     backoffMax,
	}
}

// Ship enqueues r. If the buffer is full the oldest entry is evicted to make room.
func (s *Shipper) Ship(r types.Reading) {
	for {
		select {
		case s.buf <- r:
			return
		default:
		}
		select {
		case old := <-s.buf:
			s.evicted.Add(1)
			slog.Warn("shipper: buffer full, evicted oldest reading",
				"evicted_at", old.Timestamp, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Shipped returns the number of readings published so far.
func (s *Shipper) Shipped() uint64 { return s.shipped.Load() }

// Evicted returns the number of readings dropped because the buffer was full.
func (s *Shipper) Evicted() uint64 { return s.evicted.Load() }

// Pending returns the number of buffered readings.
func (s *Shipper) Pending() int { return len(s.buf) }

// Run drains the buffer, publishing readings to the broker.
// It reconnects with exponential backoff when the session is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := backoff.New(s.boInitial, s.boMax)

	for {
		if ctx.Err() != nil {
			return
		}

		pub, err := s.dialFn(ctx, s.cfg)
		if err != nil {
			wait := bo.Next()
			slog.Error("shipper: connect failed, will retry",
				"broker", s.cfg.MQTT.Broker,
				"err", err,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("shipper: connected", "broker", s.cfg.MQTT.Broker, "topic", s.cfg.Topic)
		bo.Reset()

		err = s.drain(ctx, pub)
		pub.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.Next()
		slog.Warn("shipper: connection lost, will reconnect",
			"broker", s.cfg.MQTT.Broker,
			"err", err,
			"retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// drain publishes buffered readings until a publish fails or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, pub Publisher) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case r := <-s.buf:
			err := s.publish(ctx, pub, r)
			if err == nil {
				s.shipped.Add(1)
				slog.Debug("shipper: reading published", "topic", s.cfg.Topic, "timestamp", r.Timestamp)
				continue
			}
			if errors.Is(err, errPermanent) {
				slog.Error("shipper: discarding reading", "err", err)
				continue
			}

			// Put the reading back if there's room; a newer one supersedes it otherwise.
			select {
			case s.buf <- r:
			default:
				s.evicted.Add(1)
			}
			return err
		}
	}
}

func (s *Shipper) publish(ctx context.Context, pub Publisher, r types.Reading) error {
	payload, err := encode(r)
	if err != nil {
		return err
	}
	timeout := s.cfg.MQTT.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pub.Publish(pctx, s.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// encode renders r as the telemetry payload. The id is assigned server-side.
func encode(r types.Reading) ([]byte, error) {
	r.ID = ""
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPermanent, err)
	}
	return payload, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package shipper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airguard/airguard/agent/internal/config"
	"github.com/airguard/airguard/pkg/types"
)

// fakeBroker collects publishes across sessions. The first failN publishes fail.
type fakeBroker struct {
	mu       sync.Mutex
	received []published
	failN    int
	dials    int
	dialErrN int
}

type published struct {
	topic   string
	payload []byte
}

type fakeSession struct {
	b      *fakeBroker
	closed bool
}

func (f *fakeBroker) dial(_ context.Context, _ config.AgentConfig) (Publisher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErrN > 0 {
		f.dialErrN--
		return nil, errors.New("connection refused")
	}
	return &fakeSession{b: f}, nil
}

func (s *fakeSession) Publish(_ context.Context, topic string, payload []byte) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	if s.b.failN > 0 {
		s.b.failN--
		return errors.New("not Connected")
	}
	s.b.received = append(s.b.received, published{topic: topic, payload: payload})
	return nil
}

func (s *fakeSession) Close() {
	s.b.mu.Lock()
	s.closed = true
	s.b.mu.Unlock()
}

func (f *fakeBroker) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.received))
	copy(out, f.received)
	return out
}

func (f *fakeBroker) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// --- helpers ---

func agentCfg() config.AgentConfig {
	return config.AgentConfig{
		Topic:        "sensor/data/test",
		BufferSize:   10,
		PollInterval: time.Second,
		MQTT:         config.MQTTConfig{Broker: "tcp://unused:1883", PublishTimeout: time.Second},
	}
}

func newTestShipper(cfg config.AgentConfig, b *fakeBroker) *Shipper {
	s := New(cfg)
	s.dialFn = b.dial
	s.boInitial = 5 * time.Millisecond
	s.boMax = 20 * time.Millisecond
	return s
}

func reading(co2 float64) types.Reading {
	return types.Reading{
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Temperature: 24,
		Humidity:    50,
		CO2:         co2,
		CO:          1,
		PM25:        10,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

// --- Tests ---

func TestShipper_DeliversReading(t *testing.T) {
	b := &fakeBroker{}
	s := newTestShipper(agentCfg(), b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	r := reading(850)
	r.ID = "local-id"
	s.Ship(r)

	waitFor(t, func() bool { return len(b.messages()) == 1 })

	msg := b.messages()[0]
	if msg.topic != "sensor/data/test" {
		t.Errorf("topic: got %q, want sensor/data/test", msg.topic)
	}
	if strings.Contains(string(msg.payload), "local-id") {
		t.Errorf("payload should not carry the local id: %s", msg.payload)
	}

	// The server's decoder must accept the payload unchanged.
	got, err := types.DecodeReading(msg.payload, r.Timestamp.Add(time.Minute))
	if err != nil {
		t.Fatalf("DecodeReading: %v", err)
	}
	if got.CO2 != 850 || !got.Timestamp.Equal(r.Timestamp) {
		t.Errorf("decoded: got %+v, want co2=850 at %v", got, r.Timestamp)
	}
	if s.Shipped() != 1 {
		t.Errorf("Shipped: got %d, want 1", s.Shipped())
	}
}

func TestShipper_PreservesOrder(t *testing.T) {
	b := &fakeBroker{}
	s := newTestShipper(agentCfg(), b)

	for i := 0; i < 5; i++ {
		s.Ship(reading(float64(400 + i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return len(b.messages()) == 5 })
	for i, msg := range b.messages() {
		r, err := types.DecodeReading(msg.payload, time.Now())
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if want := float64(400 + i); r.CO2 != want {
			t.Errorf("message %d: co2 got %v, want %v", i, r.CO2, want)
		}
	}
}

func TestShipper_BufferEvictsOldest(t *testing.T) {
	// BufferSize=3; Ship 5 items while the shipper is not running.
	// Only the 3 most recent should survive.
	cfg := agentCfg()
	cfg.BufferSize = 3
	s := New(cfg)

	for i := 0; i < 5; i++ {
		s.Ship(reading(float64(i)))
	}

	var values []float64
	for len(s.buf) > 0 {
		values = append(values, (<-s.buf).CO2)
	}

	if len(values) != 3 {
		t.Fatalf("buffer has %d items, want 3", len(values))
	}
	for i, want := range []float64{2, 3, 4} {
		if values[i] != want {
			t.Errorf("values[%d] = %.0f, want %.0f", i, values[i], want)
		}
	}
	if s.Evicted() != 2 {
		t.Errorf("Evicted: got %d, want 2", s.Evicted())
	}
}

func TestShipper_RetriesAfterPublishFailure(t *testing.T) {
	b := &fakeBroker{failN: 2}
	s := newTestShipper(agentCfg(), b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(reading(1200))

	waitFor(t, func() bool { return len(b.messages()) == 1 })
	if got := b.dialCount(); got < 3 {
		t.Errorf("dials: got %d, want at least 3 (one per failed session)", got)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending: got %d, want 0", s.Pending())
	}
}

func TestShipper_RetriesDial(t *testing.T) {
	b := &fakeBroker{dialErrN: 3}
	s := newTestShipper(agentCfg(), b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(reading(700))
	waitFor(t, func() bool { return len(b.messages()) == 1 })
	if got := b.dialCount(); got != 4 {
		t.Errorf("dials: got %d, want 4", got)
	}
}

func TestEncode(t *testing.T) {
	payload, err := encode(reading(900))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, key := range []string{`"temperature":24`, `"humidity":50`, `"co2":900`, `"co":1`, `"pm25":10`, `"timestamp":"2024-03-01T12:00:00Z"`} {
		if !strings.Contains(string(payload), key) {
			t.Errorf("payload %s: missing %s", payload, key)
		}
	}
}

func TestClientID(t *testing.T) {
	a, b := clientID("airguard-agent-"), clientID("airguard-agent-")
	if !strings.HasPrefix(a, "airguard-agent-") {
		t.Errorf("clientID: got %q, want airguard-agent- prefix", a)
	}
	if len(a) != len("airguard-agent-")+12 {
		t.Errorf("clientID length: got %d", len(a))
	}
	if a == b {
		t.Errorf("clientID should be random, got %q twice", a)
	}
}

func TestShipper_GracefulShutdown(t *testing.T) {
	b := &fakeBroker{}
	s := newTestShipper(agentCfg(), b)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

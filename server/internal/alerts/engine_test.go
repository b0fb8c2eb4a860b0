package alerts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/store"
)

const cooldown = 5 * time.Minute

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// stubNotifier returns a fixed result and counts calls.
type stubNotifier struct {
	name   string
	result Result
	panics bool
	delay  time.Duration
	calls  atomic.Int32
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Notify(ctx context.Context, a Alert) Result {
	s.calls.Add(1)
	if s.panics {
		panic("smtp client exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return failed(s.name, ctx.Err())
		}
	}
	return s.result
}

func sentNotifier(name string) *stubNotifier {
	return &stubNotifier{name: name, result: Result{Channel: name, Status: StatusSent, MessageID: "<id@test>"}}
}

func failingNotifier(name string) *stubNotifier {
	return &stubNotifier{name: name, result: failed(name, errors.New("connection refused"))}
}

func poorRecord(ts time.Time) *types.Record {
	return &types.Record{
		Reading:    types.Reading{Timestamp: ts, CO2: 1500, CO: 2, PM25: 10, Temperature: 24, Humidity: 50},
		Category:   types.CategoryPoor,
		Confidence: 0.91,
		ProblematicAttributes: []types.Attribute{
			{Name: "CO2", Value: 1500, Unit: "ppm", Threshold: "> 1000 ppm", Severity: "high"},
		},
		IndicatorColor: types.ColorRed,
		Timestamp:      ts,
	}
}

func sentRecords(m *store.Memory) []types.Record {
	var out []types.Record
	for _, r := range m.Records() {
		if r.AlertSent {
			out = append(out, r)
		}
	}
	return out
}

func TestEvaluate_GoodIsPersistedWithoutChannels(t *testing.T) {
	m := store.NewMemory(0)
	email, push := sentNotifier("email"), sentNotifier("push")
	e := New(m, []Notifier{email, push}, cooldown, time.Second)

	rec := &types.Record{Category: types.CategoryGood, Confidence: 0.97, IndicatorColor: types.ColorGreen, Timestamp: t0}
	out := e.Evaluate(context.Background(), rec)

	if out.State != StateSkipped {
		t.Errorf("state: got %q, want %q", out.State, StateSkipped)
	}
	if email.calls.Load() != 0 || push.calls.Load() != 0 {
		t.Error("channels were invoked for a Good reading")
	}
	recs := m.Records()
	if len(recs) != 1 || recs[0].AlertSent {
		t.Fatalf("got records %+v, want one with alert_sent=false", recs)
	}
}

func TestEvaluate_PoorWithoutAttributesSkips(t *testing.T) {
	m := store.NewMemory(0)
	email := sentNotifier("email")
	e := New(m, []Notifier{email}, cooldown, time.Second)

	rec := poorRecord(t0)
	rec.ProblematicAttributes = nil
	out := e.Evaluate(context.Background(), rec)

	if out.State != StateSkipped || email.calls.Load() != 0 {
		t.Errorf("got state %q with %d email calls, want skipped and none", out.State, email.calls.Load())
	}
	if n := len(m.Records()); n != 1 {
		t.Errorf("records: got %d, want 1", n)
	}
}

func TestEvaluate_PoorCommitsOnEmailSuccess(t *testing.T) {
	m := store.NewMemory(0)
	email, push := sentNotifier("email"), failingNotifier("push")
	e := New(m, []Notifier{email, push}, cooldown, time.Second)

	rec := poorRecord(t0)
	out := e.Evaluate(context.Background(), rec)

	if out.State != StateCommitted {
		t.Fatalf("state: got %q, want %q (err %v)", out.State, StateCommitted, out.Err)
	}
	if !rec.AlertSent {
		t.Error("rec.AlertSent not updated after commit")
	}
	if push.calls.Load() != 1 {
		t.Errorf("push calls: got %d, want 1", push.calls.Load())
	}
	if len(out.Results) != 2 || out.Results[1].Status != StatusFailed {
		t.Errorf("results: got %+v, want push failure reported", out.Results)
	}
	recs := m.Records()
	if len(recs) != 1 || !recs[0].AlertSent {
		t.Fatalf("got records %+v, want one with alert_sent=true", recs)
	}
}

func TestEvaluate_ThrottledWithinCooldown(t *testing.T) {
	m := store.NewMemory(0)
	email := sentNotifier("email")
	e := New(m, []Notifier{email}, cooldown, time.Second)

	if out := e.Evaluate(context.Background(), poorRecord(t0)); out.State != StateCommitted {
		t.Fatalf("first: got %q, want committed", out.State)
	}
	out := e.Evaluate(context.Background(), poorRecord(t0.Add(2*time.Minute)))

	if out.State != StateThrottled {
		t.Errorf("second: got %q, want %q", out.State, StateThrottled)
	}
	if email.calls.Load() != 1 {
		t.Errorf("email calls: got %d, want 1", email.calls.Load())
	}
	recs := m.Records()
	if len(recs) != 2 || recs[1].AlertSent {
		t.Fatalf("got records %+v, want throttled record with alert_sent=false", recs)
	}
}

func TestEvaluate_AlertsAgainAfterCooldown(t *testing.T) {
	m := store.NewMemory(0)
	e := New(m, []Notifier{sentNotifier("email")}, cooldown, time.Second)

	e.Evaluate(context.Background(), poorRecord(t0))
	out := e.Evaluate(context.Background(), poorRecord(t0.Add(cooldown+time.Second)))
	if out.State != StateCommitted {
		t.Errorf("got %q, want committed after the window", out.State)
	}
}

func TestEvaluate_RollbackOnEmailFailure(t *testing.T) {
	m := store.NewMemory(0)
	email := failingNotifier("email")
	e := New(m, []Notifier{email, sentNotifier("push")}, cooldown, time.Second)

	out := e.Evaluate(context.Background(), poorRecord(t0))
	if out.State != StateRolledBack {
		t.Fatalf("state: got %q, want %q", out.State, StateRolledBack)
	}
	if out.Err != nil {
		t.Errorf("rollback should succeed, got %v", out.Err)
	}
	if n := len(m.Records()); n != 0 {
		t.Fatalf("records after rollback: got %d, want 0", n)
	}

	// A Poor reading 10s later is free to reserve again.
	email.result = Result{Channel: "email", Status: StatusSent}
	out = e.Evaluate(context.Background(), poorRecord(t0.Add(10*time.Second)))
	if out.State != StateCommitted {
		t.Errorf("retry: got %q, want committed", out.State)
	}
}

func TestEvaluate_PanickingEmailRollsBack(t *testing.T) {
	m := store.NewMemory(0)
	e := New(m, []Notifier{&stubNotifier{name: "email", panics: true}}, cooldown, time.Second)

	out := e.Evaluate(context.Background(), poorRecord(t0))
	if out.State != StateRolledBack {
		t.Fatalf("state: got %q, want %q", out.State, StateRolledBack)
	}
	if n := len(m.Records()); n != 0 {
		t.Errorf("records: got %d, want 0", n)
	}
}

func TestEvaluate_SlowEmailTimesOut(t *testing.T) {
	m := store.NewMemory(0)
	e := New(m, []Notifier{&stubNotifier{name: "email", delay: time.Second}}, cooldown, 20*time.Millisecond)

	out := e.Evaluate(context.Background(), poorRecord(t0))
	if out.State != StateRolledBack {
		t.Errorf("state: got %q, want %q", out.State, StateRolledBack)
	}
}

// rollbackFails wraps a Memory store and fails every Rollback.
type rollbackFails struct{ *store.Memory }

func (rollbackFails) Rollback(context.Context, string) error { return errors.New("write conflict") }

func TestEvaluate_RollbackFailureIsReported(t *testing.T) {
	e := New(rollbackFails{store.NewMemory(0)}, []Notifier{failingNotifier("email")}, cooldown, time.Second)

	out := e.Evaluate(context.Background(), poorRecord(t0))
	if !errors.Is(out.Err, ErrRollback) {
		t.Errorf("got err %v, want ErrRollback", out.Err)
	}
}

func TestEvaluate_ConcurrentPoorReadingsSendOnce(t *testing.T) {
	m := store.NewMemory(0)
	email := sentNotifier("email")
	email.delay = 20 * time.Millisecond
	e := New(m, []Notifier{email}, cooldown, time.Second)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Evaluate(context.Background(), poorRecord(t0.Add(time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()

	if got := email.calls.Load(); got != 1 {
		t.Errorf("email calls: got %d, want 1", got)
	}
	if got := len(m.Records()); got != n {
		t.Errorf("records: got %d, want %d", got, n)
	}
	if got := len(sentRecords(m)); got != 1 {
		t.Errorf("sent records: got %d, want 1", got)
	}
}

func TestEvaluate_SentRecordsRespectCooldown(t *testing.T) {
	m := store.NewMemory(0)
	e := New(m, []Notifier{sentNotifier("email")}, cooldown, time.Second)

	// One Poor reading every 40s for an hour.
	for i := 0; i < 90; i++ {
		e.Evaluate(context.Background(), poorRecord(t0.Add(time.Duration(i)*40*time.Second)))
	}
	sent := sentRecords(m)
	if len(sent) < 2 {
		t.Fatalf("sent records: got %d, want several", len(sent))
	}
	for i := 1; i < len(sent); i++ {
		if gap := sent[i].Timestamp.Sub(sent[i-1].Timestamp); gap < cooldown {
			t.Errorf("sent records %d and %d are %v apart, want >= %v", i-1, i, gap, cooldown)
		}
	}
}

func TestEvaluate_NoChannelsPersistsPlainly(t *testing.T) {
	m := store.NewMemory(0)
	e := New(m, nil, cooldown, time.Second)
	if out := e.Evaluate(context.Background(), poorRecord(t0)); out.State != StateSkipped {
		t.Errorf("got %q, want %q", out.State, StateSkipped)
	}
	if n := len(m.Records()); n != 1 {
		t.Errorf("records: got %d, want 1", n)
	}
}

func TestEvaluate_StampsMissingTimestamp(t *testing.T) {
	m := store.NewMemory(0)
	e := New(m, nil, cooldown, time.Second)
	e.now = func() time.Time { return t0 }

	rec := &types.Record{Category: types.CategoryModerate}
	e.Evaluate(context.Background(), rec)
	if !rec.Timestamp.Equal(t0) || rec.ID == "" {
		t.Errorf("got id %q ts %v, want id set and ts %v", rec.ID, rec.Timestamp, t0)
	}
}

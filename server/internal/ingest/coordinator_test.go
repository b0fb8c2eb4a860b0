package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/actuator"
	"github.com/airguard/airguard/server/internal/alerts"
	"github.com/airguard/airguard/server/internal/broker"
	"github.com/airguard/airguard/server/internal/classifier"
	"github.com/airguard/airguard/server/internal/store"
)

const (
	telemetryTopic = "sensor/data/airguard"
	commandTopic   = "device/control/airguard"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// --- fakes ------------------------------------------------------------------

type fakeFeed struct{ ch chan broker.Message }

func (f *fakeFeed) Messages() <-chan broker.Message { return f.ch }

type fakeClassifier struct {
	result types.Classification
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, req classifier.Request) (types.Classification, error) {
	f.calls++
	if err := req.Validate(); err != nil {
		return types.Classification{}, err
	}
	return f.result, f.err
}

type fakePublisher struct {
	mu   sync.Mutex
	sent int
}

func (p *fakePublisher) Publish(context.Context, string, []byte) error {
	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) Connected() bool { return true }

type countingNotifier struct {
	status alerts.Status
	calls  int
}

func (n *countingNotifier) Name() string { return "email" }

func (n *countingNotifier) Notify(context.Context, alerts.Alert) alerts.Result {
	n.calls++
	return alerts.Result{Channel: "email", Status: n.status}
}

type recordedEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordedEvents) Publish(event string, _ any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// --- helpers ----------------------------------------------------------------

type harness struct {
	coord  *Coordinator
	store  *store.Memory
	cls    *fakeClassifier
	pub    *fakePublisher
	email  *countingNotifier
	events *recordedEvents
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemory(0),
		cls:    &fakeClassifier{},
		pub:    &fakePublisher{},
		email:  &countingNotifier{status: alerts.StatusSent},
		events: &recordedEvents{},
		clock:  t0,
	}
	act := actuator.New(h.pub, h.store, commandTopic)
	eng := alerts.New(h.store, []alerts.Notifier{h.email}, 5*time.Minute, time.Second)
	h.coord = New(telemetryTopic, Deps{
		Feed:       &fakeFeed{},
		Readings:   h.store,
		Classifier: h.cls,
		Actuator:   act,
		Alerts:     eng,
		Events:     h.events,
	})
	h.coord.now = func() time.Time { return h.clock }
	return h
}

func msg(payload string) broker.Message {
	return broker.Message{Topic: telemetryTopic, Payload: []byte(payload)}
}

const goodPayload = `{"co2":500,"co":2,"pm25":10,"temperature":24,"humidity":50}`

func poorClassification() types.Classification {
	return types.Classification{
		Category:   types.CategoryPoor,
		Confidence: 0.9,
		ProblematicAttributes: []types.Attribute{
			{Name: "CO2", Value: 1500, Unit: "ppm"},
		},
	}
}

// --- tests ------------------------------------------------------------------

func TestHandle_GoodReading(t *testing.T) {
	h := newHarness(t)
	h.cls.result = types.Classification{Category: types.CategoryGood, Confidence: 0.97}

	if err := h.coord.Handle(context.Background(), msg(goodPayload)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if n := len(h.store.Readings()); n != 1 {
		t.Errorf("readings: got %d, want 1", n)
	}
	recs := h.store.Records()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	if recs[0].AlertSent || recs[0].IndicatorColor != types.ColorGreen || recs[0].AlarmTriggered {
		t.Errorf("record: got %+v, want green, no alarm, alert_sent=false", recs[0])
	}
	if recs[0].Reading.ID == "" || recs[0].Reading.CO2 != 500 {
		t.Errorf("record reading snapshot: got %+v", recs[0].Reading)
	}
	if h.email.calls != 0 {
		t.Errorf("email calls: got %d, want 0", h.email.calls)
	}
	if h.pub.sent != 1 {
		t.Errorf("commands published: got %d, want 1 (indicator only)", h.pub.sent)
	}

	st := h.coord.Tracker().Status()
	if st.Stats.Classified[types.CategoryGood] != 1 || st.LastReading == nil || st.LastAlert != nil {
		t.Errorf("status: got %+v", st)
	}
	wantEvents := []string{EventReading, EventClassification}
	if fmt.Sprint(h.events.events) != fmt.Sprint(wantEvents) {
		t.Errorf("events: got %v, want %v", h.events.events, wantEvents)
	}
}

func TestHandle_PoorReadingAlertsThenThrottles(t *testing.T) {
	h := newHarness(t)
	h.cls.result = poorClassification()

	if err := h.coord.Handle(context.Background(), msg(goodPayload)); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	h.clock = t0.Add(2 * time.Minute)
	if err := h.coord.Handle(context.Background(), msg(goodPayload)); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	if h.email.calls != 1 {
		t.Errorf("email calls: got %d, want 1", h.email.calls)
	}
	recs := h.store.Records()
	if len(recs) != 2 {
		t.Fatalf("records: got %d, want 2", len(recs))
	}
	if !recs[0].AlertSent || recs[1].AlertSent {
		t.Errorf("alert_sent: got %v,%v, want true,false", recs[0].AlertSent, recs[1].AlertSent)
	}
	st := h.coord.Tracker().Status()
	if st.Stats.Alerts[alerts.StateCommitted] != 1 || st.Stats.Alerts[alerts.StateThrottled] != 1 {
		t.Errorf("alert stats: got %v", st.Stats.Alerts)
	}
	if st.LastAlert == nil || st.LastAlert.State != alerts.StateThrottled {
		t.Errorf("last alert: got %+v, want throttled", st.LastAlert)
	}
}

func TestHandle_EmailFailureLeavesNoRecord(t *testing.T) {
	h := newHarness(t)
	h.cls.result = poorClassification()
	h.email.status = alerts.StatusFailed

	h.coord.Handle(context.Background(), msg(goodPayload)) //nolint:errcheck
	if n := len(h.store.Records()); n != 0 {
		t.Errorf("records after rollback: got %d, want 0", n)
	}
	if n := len(h.store.Readings()); n != 1 {
		t.Errorf("readings: got %d, want 1", n)
	}
}

func TestHandle_ClassifierFailure(t *testing.T) {
	h := newHarness(t)
	h.cls.err = fmt.Errorf("%w: HTTP 503", classifier.ErrUnavailable)

	err := h.coord.Handle(context.Background(), msg(goodPayload))
	if !errors.Is(err, classifier.ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
	if n := len(h.store.Readings()); n != 1 {
		t.Errorf("readings: got %d, want 1 (reading stays persisted)", n)
	}
	if n := len(h.store.Records()); n != 0 {
		t.Errorf("records: got %d, want 0", n)
	}
	if h.pub.sent != 0 {
		t.Errorf("commands published: got %d, want 0", h.pub.sent)
	}
	if got := h.coord.Tracker().Status().Stats.ClassifyErrors; got != 1 {
		t.Errorf("classify errors: got %d, want 1", got)
	}
}

func TestHandle_DecodeFailures(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantField string
	}{
		{"not json", `hello`, ""},
		{"missing co", `{"co2":500,"pm25":10,"temperature":24,"humidity":50}`, "co"},
		{"non numeric", `{"co2":"high","co":2,"pm25":10,"temperature":24,"humidity":50}`, "co2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			err := h.coord.Handle(context.Background(), msg(tc.payload))

			var de *types.DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("got %v, want *types.DecodeError", err)
			}
			if de.Field != tc.wantField {
				t.Errorf("field: got %q, want %q", de.Field, tc.wantField)
			}
			if len(h.store.Readings()) != 0 || h.cls.calls != 0 {
				t.Error("undecodable message reached storage or classifier")
			}
		})
	}
}

func TestHandle_IgnoresOtherTopics(t *testing.T) {
	h := newHarness(t)
	err := h.coord.Handle(context.Background(), broker.Message{Topic: "sensor/data/other", Payload: []byte(goodPayload)})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(h.store.Readings()) != 0 {
		t.Error("message on another topic was persisted")
	}
	if got := h.coord.Tracker().Status().Stats.Ignored; got != 1 {
		t.Errorf("ignored: got %d, want 1", got)
	}
}

func TestRun_ContinuesAfterFailures(t *testing.T) {
	h := newHarness(t)
	h.cls.result = types.Classification{Category: types.CategoryModerate}
	feed := &fakeFeed{ch: make(chan broker.Message, 3)}
	h.coord.deps.Feed = feed

	feed.ch <- msg(`garbage`)
	feed.ch <- msg(goodPayload)
	feed.ch <- msg(goodPayload)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.coord.Run(ctx); close(done) }()

	deadline := time.After(2 * time.Second)
	for len(h.store.Records()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("records: got %d, want 2", len(h.store.Records()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if got := h.coord.Tracker().Status().Stats.DecodeErrors; got != 1 {
		t.Errorf("decode errors: got %d, want 1", got)
	}
}

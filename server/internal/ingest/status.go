package ingest

import (
	"sync"
	"time"

	"github.com/airguard/airguard/pkg/types"
	"github.com/airguard/airguard/server/internal/alerts"
)

// Stats are cumulative pipeline counters since process start.
type Stats struct {
	Received       uint64                    `json:"received"`
	Ignored        uint64                    `json:"ignored"`
	DecodeErrors   uint64                    `json:"decode_errors"`
	StoreErrors    uint64                    `json:"store_errors"`
	ClassifyErrors uint64                    `json:"classify_errors"`
	Classified     map[types.Category]uint64 `json:"classified"`
	Alerts         map[alerts.State]uint64   `json:"alerts"`
}

// AlertStatus is the outcome of the most recent alert evaluation that
// reached the throttle (Poor with problematic attributes).
type AlertStatus struct {
	State    alerts.State    `json:"state"`
	RecordID string          `json:"record_id"`
	At       time.Time       `json:"at"`
	Results  []alerts.Result `json:"results,omitempty"`
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	LastReading        *types.Reading        `json:"last_reading,omitempty"`
	LastClassification *types.Classification `json:"last_classification,omitempty"`
	LastAlert          *AlertStatus          `json:"last_alert,omitempty"`
	Stats              Stats                 `json:"stats"`
}

// Tracker records pipeline progress. It is safe for concurrent use.
type Tracker struct {
	mu sync.RWMutex
	st Status
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{st: Status{Stats: Stats{
		Classified: make(map[types.Category]uint64),
		Alerts:     make(map[alerts.State]uint64),
	}}}
}

func (t *Tracker) update(fn func(st *Status)) {
	t.mu.Lock()
	fn(&t.st)
	t.mu.Unlock()
}

func (t *Tracker) reading(r types.Reading) {
	t.update(func(st *Status) { st.LastReading = &r })
}

func (t *Tracker) classification(c types.Classification) {
	t.update(func(st *Status) {
		st.LastClassification = &c
		st.Stats.Classified[c.Category]++
	})
}

func (t *Tracker) alert(out alerts.Outcome, at time.Time) {
	t.update(func(st *Status) {
		st.Stats.Alerts[out.State]++
		if out.State == alerts.StateSkipped {
			return
		}
		st.LastAlert = &AlertStatus{State: out.State, RecordID: out.RecordID, At: at, Results: out.Results}
	})
}

// Status returns a copy of the current state.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.st
	out.Stats.Classified = make(map[types.Category]uint64, len(t.st.Stats.Classified))
	for k, v := range t.st.Stats.Classified {
		out.Stats.Classified[k] = v
	}
	out.Stats.Alerts = make(map[alerts.State]uint64, len(t.st.Stats.Alerts))
	for k, v := range t.st.Stats.Alerts {
		out.Stats.Alerts[k] = v
	}
	return out
}

package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airguard/airguard/pkg/types"
)

// Alert is the payload every channel receives. It carries only what the
// alert is about; channels render the problematic attributes, never the full
// sensor set.
type Alert struct {
	RecordID              string            `json:"record_id"`
	Category              types.Category    `json:"category"`
	Confidence            float64           `json:"confidence"`
	ProblematicAttributes []types.Attribute `json:"problematic_attributes"`
	Reading               types.Reading     `json:"reading"`
	FiredAt               time.Time         `json:"fired_at"`
}

// Status is the outcome of one channel call.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result is what a channel reports back. MessageID is set by channels that
// produce one (email).
type Result struct {
	Channel   string `json:"channel"`
	Status    Status `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Err       error  `json:"-"`
}

// Success reports whether the channel call did not fail. A skipped send is a
// success that delivered nothing.
func (r Result) Success() bool { return r.Status != StatusFailed }

// Sent reports whether a notification actually went out.
func (r Result) Sent() bool { return r.Status == StatusSent }

// Notifier is one notification channel. Notify must honour ctx and report
// failures through Result rather than panicking.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) Result
}

func skipped(channel, reason string) Result {
	return Result{Channel: channel, Status: StatusSkipped, Reason: reason}
}

func failed(channel string, err error) Result {
	return Result{Channel: channel, Status: StatusFailed, Reason: err.Error(), Err: err}
}

// fanOut calls every notifier concurrently, each bounded by timeout, and
// waits for all of them. results[i] belongs to ns[i]. A failing or
// panicking channel never affects its siblings.
func fanOut(ctx context.Context, ns []Notifier, a Alert, timeout time.Duration) []Result {
	results := make([]Result, len(ns))
	var wg sync.WaitGroup
	for i, n := range ns {
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					results[i] = failed(n.Name(), fmt.Errorf("panic: %v", p))
				}
			}()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res := n.Notify(cctx, a)
			if res.Channel == "" {
				res.Channel = n.Name()
			}
			results[i] = res
		}(i, n)
	}
	wg.Wait()

	for _, r := range results {
		switch r.Status {
		case StatusFailed:
			slog.Error("alerts: channel failed",
				"channel", r.Channel, "record_id", a.RecordID, "err", r.Err)
		case StatusSkipped:
			slog.Info("alerts: channel skipped",
				"channel", r.Channel, "record_id", a.RecordID, "reason", r.Reason)
		default:
			slog.Debug("alerts: channel delivered",
				"channel", r.Channel, "record_id", a.RecordID, "message_id", r.MessageID)
		}
	}
	return results
}

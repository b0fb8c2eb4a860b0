package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const pushChannel = "pushsafer"

// Pushsafer sends push notifications through the Pushsafer form API.
//
// It keeps its own minimum interval between sends, independent of the
// engine's cooldown; a send suppressed by it is reported as skipped.
type Pushsafer struct {
	endpoint string
	key      string
	device   string
	interval time.Duration
	client   *http.Client
	now      func() time.Time

	mu   sync.Mutex
	last time.Time // most recent send, or one in flight
	prev time.Time
}

// NewPushsafer creates a push notifier. interval <= 0 disables the local
// rate limit.
func NewPushsafer(endpoint, key, device string, interval time.Duration) *Pushsafer {
	return &Pushsafer{
		endpoint: endpoint,
		key:      key,
		device:   device,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
}

func (p *Pushsafer) Name() string { return pushChannel }

// pushResponse is the Pushsafer API reply. status is 1 on success.
type pushResponse struct {
	Status  int    `json:"status"`
	Success string `json:"success"`
	Error   string `json:"error"`
}

func (p *Pushsafer) Notify(ctx context.Context, a Alert) Result {
	if len(a.ProblematicAttributes) == 0 {
		return skipped(pushChannel, "no problematic attributes")
	}
	if p.key == "" {
		return failed(pushChannel, errors.New("private key not configured"))
	}

	now, ok := p.claim()
	if !ok {
		return skipped(pushChannel, "cooldown")
	}
	msg, err := p.send(ctx, a)
	if err != nil {
		p.release(now)
		return failed(pushChannel, err)
	}
	return Result{Channel: pushChannel, Status: StatusSent, Reason: msg}
}

// claim checks the local interval and, if a send is allowed, records it as
// the last one so a concurrent Notify is suppressed while it is in flight.
// prev is kept so a failed send can give the slot back.
func (p *Pushsafer) claim() (time.Time, bool) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interval > 0 && !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return now, false
	}
	p.prev, p.last = p.last, now
	return now, true
}

// release undoes a claim made at now, unless a later send has replaced it.
func (p *Pushsafer) release(now time.Time) {
	p.mu.Lock()
	if p.last.Equal(now) {
		p.last = p.prev
	}
	p.mu.Unlock()
}

// send posts a to the API and returns its success message.
func (p *Pushsafer) send(ctx context.Context, a Alert) (string, error) {
	form := url.Values{
		"k":  {p.key},
		"d":  {p.device},
		"t":  {subject(a)},
		"m":  {pushMessage(a)},
		"s":  {"1"},
		"v":  {"1"},
		"pr": {"2"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("pushsafer returned HTTP %d", resp.StatusCode)
	}
	var pr pushResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if pr.Status != 1 {
		return "", fmt.Errorf("pushsafer rejected message: %s", pr.Error)
	}
	return pr.Success, nil
}

// pushMessage lists one line per problematic attribute.
func pushMessage(a Alert) string {
	lines := make([]string, 0, len(a.ProblematicAttributes))
	for _, attr := range a.ProblematicAttributes {
		line := fmt.Sprintf("%s: %.1f %s", attr.Name, attr.Value, attr.Unit)
		if attr.Threshold != "" {
			line += " (" + attr.Threshold + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/airguard/airguard/pkg/types"
)

// Webhook posts alerts to a Slack, Teams or generic HTTP endpoint.
type Webhook struct {
	kind   string
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. kind is one of slack | teams | http.
func NewWebhook(kind, url string) *Webhook {
	return &Webhook{
		kind:   kind,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook:" + w.kind }

func (w *Webhook) Notify(ctx context.Context, a Alert) Result {
	if len(a.ProblematicAttributes) == 0 {
		return skipped(w.Name(), "no problematic attributes")
	}
	if w.url == "" {
		return skipped(w.Name(), "url not configured")
	}

	var err error
	switch w.kind {
	case "slack":
		err = w.sendSlack(ctx, a)
	case "teams":
		err = w.sendTeams(ctx, a)
	case "http":
		err = w.sendHTTP(ctx, a)
	default:
		err = fmt.Errorf("unknown webhook type %q", w.kind)
	}
	if err != nil {
		return failed(w.Name(), err)
	}
	return Result{Channel: w.Name(), Status: StatusSent}
}

func (w *Webhook) sendSlack(ctx context.Context, a Alert) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", categoryLabel(a.Category), summary(a)),
	})
	return w.post(ctx, body)
}

func (w *Webhook) sendTeams(ctx context.Context, a Alert) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": categoryColor(a.Category),
		"summary":    subject(a),
		"title":      subject(a),
		"text":       summary(a),
	}
	body, _ := json.Marshal(payload)
	return w.post(ctx, body)
}

func (w *Webhook) sendHTTP(ctx context.Context, a Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return w.post(ctx, body)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// summary is a one-line description of the problematic attributes.
func summary(a Alert) string {
	parts := make([]string, 0, len(a.ProblematicAttributes))
	for _, attr := range a.ProblematicAttributes {
		parts = append(parts, fmt.Sprintf("%s %.1f %s", attr.Name, attr.Value, attr.Unit))
	}
	return fmt.Sprintf("Air quality is %s: %s", a.Category.Title(), strings.Join(parts, ", "))
}

func categoryLabel(c types.Category) string {
	switch c {
	case types.CategoryPoor:
		return "[POOR]"
	case types.CategoryModerate:
		return "[MODERATE]"
	default:
		return "[GOOD]"
	}
}

func categoryColor(c types.Category) string {
	switch c {
	case types.CategoryPoor:
		return "FF4F6A"
	case types.CategoryModerate:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}

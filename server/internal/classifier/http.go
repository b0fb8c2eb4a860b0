package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airguard/airguard/pkg/types"
)

// maxResponseBytes caps how much of a scoring response is read.
const maxResponseBytes = 1 << 20

// HTTP calls a JSON scoring endpoint with POST.
type HTTP struct {
	url    string
	labels Labels
	client *http.Client
}

// NewHTTP returns an HTTP classifier. Every call is bounded by timeout.
func NewHTTP(url string, timeout time.Duration, labels Labels) *HTTP {
	return &HTTP{
		url:    url,
		labels: labels,
		client: &http.Client{Timeout: timeout},
	}
}

// Classify validates req, posts it, and decodes the verdict.
func (h *HTTP) Classify(ctx context.Context, req Request) (types.Classification, error) {
	if err := req.Validate(); err != nil {
		return types.Classification{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return types.Classification{}, fmt.Errorf("classifier: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return types.Classification{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return types.Classification{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.Classification{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.Classification{}, fmt.Errorf("%w: endpoint returned HTTP %d: %s",
			ErrUnavailable, resp.StatusCode, truncate(data, 200))
	}
	return decodeResponse(data, h.labels)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

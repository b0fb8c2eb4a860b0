package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/airguard/airguard/agent/internal/config"
	"github.com/airguard/airguard/pkg/types"
)

const defaultScrapeTimeout = 10 * time.Second

// ErrIncomplete is set on a Result whose source did not report all five
// attributes. Such a cycle is skipped rather than shipped with gaps.
var ErrIncomplete = errors.New("scraper: incomplete reading")

// Result is the output of one poll of a single source.
type Result struct {
	SourceID   string
	SourceType string
	ScrapedAt  time.Time

	// Reading is valid only when Err is nil.
	Reading types.Reading

	// Err is non-nil if the poll failed (connectivity, auth, parse or a
	// missing attribute). The caller skips the cycle.
	Err error
}

// Scraper is the common interface implemented by every sensor source.
type Scraper interface {
	Scrape(ctx context.Context) (*Result, error)
}

// New returns the appropriate Scraper for the given source configuration.
// It builds the HTTP client once and reuses it across scrape calls.
func New(src config.Source) (Scraper, error) {
	switch src.Type {
	case "prometheus":
		client, err := buildHTTPClient(src)
		if err != nil {
			return nil, fmt.Errorf("scraper %q: build http client: %w", src.ID, err)
		}
		return newPromScraper(src, client), nil
	case "simulated":
		return NewSimulator(src), nil
	default:
		return nil, fmt.Errorf("scraper: unsupported type %q", src.Type)
	}
}

// authTransport decorates every outgoing request with the source's
// credentials. The decoration is chosen once from the auth mode.
type authTransport struct {
	base      http.RoundTripper
	authorize func(*http.Request)
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.authorize == nil {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	t.authorize(req)
	return t.base.RoundTrip(req)
}

// authorizer returns the request decoration for a, or nil when the source
// is unauthenticated or uses mTLS. Secrets are read per request so a rotated
// environment value is picked up without a restart.
func authorizer(a config.AuthConfig) func(*http.Request) {
	switch a.Mode {
	case "apikey":
		return func(r *http.Request) { r.Header.Set(a.Header, a.Key()) }
	case "bearer":
		return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+a.Token()) }
	case "basic":
		return func(r *http.Request) { r.SetBasicAuth(a.Username, a.Password()) }
	}
	return nil
}

// tlsConfig builds the dial options for src, loading the client keypair and
// CA bundle in mtls mode.
func tlsConfig(src config.Source) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	if src.Auth.Mode != "mtls" {
		return cfg, nil
	}

	cert, err := tls.LoadX509KeyPair(src.Auth.CertFile, src.Auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}

	if src.Auth.CAFile == "" {
		return cfg, nil
	}
	caPEM, err := os.ReadFile(src.Auth.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("ca file %q holds no usable certificates", src.Auth.CAFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// buildHTTPClient returns the client used for every poll of src.
func buildHTTPClient(src config.Source) (*http.Client, error) {
	tc, err := tlsConfig(src)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &authTransport{
			base:      &http.Transport{TLSClientConfig: tc},
			authorize: authorizer(src.Auth),
		},
		Timeout: defaultScrapeTimeout,
	}, nil
}

// StatusError reports a non-200 answer from an exporter.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

// fetchMetrics GETs url and parses the text exposition it returns.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a text exposition. Families parsed before a syntax
// error are kept; only a page that yields nothing is an error.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var p expfmt.TextParser
	mfs, err := p.TextToMetricFamilies(r)
	if len(mfs) == 0 && err != nil {
		return nil, fmt.Errorf("parse exposition: %w", err)
	}
	return mfs, nil
}

// meanFamily averages the gauge, untyped or counter values of the series in
// mf whose labels include every pair in match. ok is false when no series
// matches.
func meanFamily(mf *dto.MetricFamily, match map[string]string) (v float64, ok bool) {
	if mf == nil {
		return 0, false
	}
	var total float64
	var n int
	for _, m := range mf.GetMetric() {
		if !hasLabels(m, match) {
			continue
		}
		switch {
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		case m.Counter != nil:
			total += m.Counter.GetValue()
		default:
			continue
		}
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}

func hasLabels(m *dto.Metric, match map[string]string) bool {
	if len(match) == 0 {
		return true
	}
	found := 0
	for _, lp := range m.GetLabel() {
		if want, ok := match[lp.GetName()]; ok {
			if lp.GetValue() != want {
				return false
			}
			found++
		}
	}
	return found == len(match)
}

func newResult(sourceID, sourceType string, now time.Time) *Result {
	return &Result{
		SourceID:   sourceID,
		SourceType: sourceType,
		ScrapedAt:  now.UTC(),
	}
}

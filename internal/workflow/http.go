package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// IdempotencyHeader carries the job id on every trigger attempt.
const IdempotencyHeader = "X-Idempotency-Key"

// Option configures an HTTPTrigger.
type Option func(*HTTPTrigger)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *HTTPTrigger) { t.http = hc }
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(t *HTTPTrigger) { t.token = token }
}

// HTTPTrigger posts the request as JSON to a workflow endpoint.
type HTTPTrigger struct {
	url   string
	token string
	http  *http.Client
}

// NewHTTPTrigger creates a trigger for url. The default per-request timeout
// is 30 seconds.
func NewHTTPTrigger(url string, opts ...Option) *HTTPTrigger {
	t := &HTTPTrigger{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Trigger implements Trigger. Non-2xx responses are classified with
// resilience.FromHTTPStatus; transport failures are transient.
func (t *HTTPTrigger) Trigger(ctx context.Context, r Request) error {
	if t.url == "" {
		return resilience.NewPermanentError(eris.New("workflow: url not configured"), 0)
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "workflow: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "workflow: create request"), 0)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, r.JobID)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "workflow: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resilience.FromHTTPStatus("workflow", resp.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Package whois looks up domain registration metadata from a JSON WHOIS service.
package whois

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-qualifier/internal/resilience"
)

const defaultBaseURL = "https://whois.example-api.com"

// Client looks up WHOIS records.
type Client interface {
	Lookup(ctx context.Context, domain string) (*Record, error)
}

// Record is the subset of WHOIS data the checkers use.
type Record struct {
	Domain     string     `json:"domain"`
	Registered bool       `json:"registered"`
	Registrar  string     `json:"registrar,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type lookupResponse struct {
	DomainName string `json:"domain_name"`
	Registrar  string `json:"registrar"`
	Created    string `json:"creation_date"`
	Expires    string `json:"expiration_date"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimiter throttles outgoing requests.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) { c.limiter = l }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a WHOIS client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Lookup returns the record for domain. A 404 means the domain is not
// registered and is reported as a Record with Registered=false.
func (c *httpClient) Lookup(ctx context.Context, domain string) (*Record, error) {
	if c.apiKey == "" {
		return nil, &resilience.AuthError{Err: eris.New("whois: api key not configured")}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "whois: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/"+url.PathEscape(domain), nil)
	if err != nil {
		return nil, eris.Wrap(err, "whois: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "whois: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "whois: read response")
	}
	if resp.StatusCode == http.StatusNotFound {
		return &Record{Domain: domain}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus("whois", resp.StatusCode, string(body))
	}

	var lr lookupResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, eris.Wrap(err, "whois: unmarshal response")
	}
	return &Record{
		Domain:     domain,
		Registered: true,
		Registrar:  lr.Registrar,
		CreatedAt:  parseDate(lr.Created),
		ExpiresAt:  parseDate(lr.Expires),
	}, nil
}

func parseDate(s string) *time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

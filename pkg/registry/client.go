// Package registry is a client for a company-registry search API in the
// style of Companies House.
package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-qualifier/internal/resilience"
)

const defaultBaseURL = "https://api.company-information.service.gov.uk"

// Client searches a company registry.
type Client interface {
	SearchCompanies(ctx context.Context, name string) ([]Company, error)
}

// Company is one registry search hit.
type Company struct {
	Title          string `json:"title"`
	CompanyNumber  string `json:"company_number"`
	CompanyStatus  string `json:"company_status"`
	DateOfCreation string `json:"date_of_creation"`
	AddressSnippet string `json:"address_snippet"`
}

// Active reports whether the registry lists the company as active.
func (c Company) Active() bool {
	return c.CompanyStatus == "active"
}

type searchResponse struct {
	TotalResults int       `json:"total_results"`
	Items        []Company `json:"items"`
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

// WithItemsPerPage sets how many results a search returns.
func WithItemsPerPage(n int) Option {
	return func(c *httpClient) { c.perPage = n }
}

type httpClient struct {
	apiKey  string
	baseURL string
	perPage int
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a registry client. The API key is sent as the basic
// auth username with an empty password.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		perPage: 20,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchCompanies(ctx context.Context, name string) ([]Company, error) {
	if c.apiKey == "" {
		return nil, &resilience.AuthError{Err: eris.New("registry: api key not configured")}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "registry: rate limit wait")
		}
	}

	q := url.Values{}
	q.Set("q", name)
	q.Set("items_per_page", strconv.Itoa(c.perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/companies?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "registry: create request")
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "registry: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus("registry", resp.StatusCode, string(body))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal response")
	}
	return sr.Items, nil
}

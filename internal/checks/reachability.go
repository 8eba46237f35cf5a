package checks

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// Resolver is the subset of net.Resolver used for DNS checks.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Reachability performs DNS and HTTP reachability lookups.
type Reachability struct {
	Resolver Resolver
	HTTP     *http.Client
	Breakers *resilience.ServiceBreakers
}

// NewReachability creates a checker using the system resolver and an HTTP client
// with the given per-request timeout.
func NewReachability(timeout time.Duration, breakers *resilience.ServiceBreakers) *Reachability {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reachability{
		Resolver: net.DefaultResolver,
		HTTP: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout: timeout,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		Breakers: breakers,
	}
}

// Resolves reports whether host has DNS records. NXDOMAIN is a definite
// answer and returns false with no error.
func (p *Reachability) Resolves(ctx context.Context, host string) (bool, error) {
	lookup := func(ctx context.Context) ([]string, error) {
		addrs, err := p.Resolver.LookupHost(ctx, host)
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		return addrs, err
	}

	addrs, err := call(ctx, p.Breakers, "dns", lookup)
	if err != nil {
		return false, eris.Wrapf(err, "checks: resolve %s", host)
	}
	return len(addrs) > 0, nil
}

// Reachable performs an HTTP HEAD request and considers 2xx and 3xx
// responses reachable. Transport failures are returned as errors.
func (p *Reachability) Reachable(ctx context.Context, rawURL string) (bool, error) {
	head := func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return false, resilience.NewPermanentError(eris.Wrap(err, "checks: create head request"), 0)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; lead-qualifier/1.0)")

		resp, err := p.HTTP.Do(req)
		if err != nil {
			return false, resilience.NewTransientError(eris.Wrapf(err, "checks: head %s", rawURL), 0)
		}
		defer resp.Body.Close() //nolint:errcheck
		return resp.StatusCode < 400, nil
	}

	return call(ctx, p.Breakers, "http", head)
}

// hostMatches reports whether rawURL's host equals or is a subdomain of any
// entry in hosts.
func hostMatches(rawURL string, hosts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	for _, h := range hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// DomainOf returns the lowercase bare host of a website URL or domain,
// without a leading "www.". It returns "" for unparsable input.
func DomainOf(website string) string {
	w := strings.TrimSpace(website)
	if w == "" {
		return ""
	}
	if !strings.Contains(w, "://") {
		w = "https://" + w
	}
	u, err := url.Parse(w)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

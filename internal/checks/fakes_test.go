package checks

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/store"
	"github.com/sells-group/lead-qualifier/pkg/whois"
)

type memChecks struct {
	mu        sync.Mutex
	rows      []model.CheckResult
	appendErr error
}

func (m *memChecks) AppendCheck(_ context.Context, r *model.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.rows = append(m.rows, *r)
	return nil
}

func (m *memChecks) LatestCheck(_ context.Context, t model.CheckType, subject string, since time.Time) (*model.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.CheckResult
	for i := range m.rows {
		r := m.rows[i]
		if r.CheckType != t || r.Subject != subject || r.CreatedAt.Before(since) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = &r
		}
	}
	return best, nil
}

func (m *memChecks) ListChecks(_ context.Context, entityID string) ([]model.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CheckResult
	for _, r := range m.rows {
		if r.EntityID != nil && *r.EntityID == entityID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memChecks) LinkChecks(_ context.Context, entityID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for i := range m.rows {
			if m.rows[i].ID == id && m.rows[i].EntityID == nil {
				m.rows[i].EntityID = &entityID
			}
		}
	}
	return nil
}

func (m *memChecks) ofType(t model.CheckType) []model.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CheckResult
	for _, r := range m.rows {
		if r.CheckType == t {
			out = append(out, r)
		}
	}
	return out
}

type presenceLog struct {
	mu      sync.Mutex
	updates map[string][]store.PresenceUpdate
}

func (p *presenceLog) UpdatePresence(_ context.Context, id string, u store.PresenceUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updates == nil {
		p.updates = make(map[string][]store.PresenceUpdate)
	}
	p.updates[id] = append(p.updates[id], u)
	return nil
}

// fakeResolver answers from a fixed table; unknown hosts are NXDOMAIN.
type fakeResolver struct {
	mu    sync.Mutex
	hosts map[string][]string
	errs  map[string]error
	calls int
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[host]; ok {
		return nil, err
	}
	if addrs, ok := f.hosts[host]; ok {
		return addrs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// newTestReachability answers HEAD requests with the status configured for the
// request host; other hosts fail with a connection error.
func newTestReachability(res *fakeResolver, status map[string]int) *Reachability {
	return &Reachability{
		Resolver: res,
		HTTP: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			code, ok := status[r.URL.Hostname()]
			if !ok {
				return nil, errors.New("dial tcp: connection refused")
			}
			return &http.Response{
				StatusCode: code,
				Body:       io.NopCloser(strings.NewReader("")),
				Header:     make(http.Header),
				Request:    r,
			}, nil
		})},
	}
}

type fakeWhois struct {
	registered bool
	err        error
}

func (f fakeWhois) Lookup(_ context.Context, domain string) (*whois.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &whois.Record{Domain: domain, Registered: f.registered, Registrar: "Example Registrar"}, nil
}

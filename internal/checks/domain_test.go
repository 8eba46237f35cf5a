package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

func TestDomainChecker_Available(t *testing.T) {
	mem := &memChecks{}
	dc := NewDomainChecker(newTestReachability(&fakeResolver{}, nil), nil, mem, nil, DomainConfig{Timeout: time.Second})

	res := dc.Check(context.Background(), "nonexistentventuresltdxyz123.com", Hints{})
	assert.True(t, res.Passed)
	assert.False(t, res.Failed())
	assert.Equal(t, true, res.Details["available"])
	assert.Equal(t, false, res.Details["has_dns"])
	require.Len(t, res.CheckIDs, 1)
	require.Len(t, mem.rows, 1)
	assert.Equal(t, model.CheckDomainAvailability, mem.rows[0].CheckType)
	assert.Nil(t, mem.rows[0].EntityID)
}

func TestDomainChecker_Registered(t *testing.T) {
	res := &fakeResolver{hosts: map[string][]string{"microsoft.com": {"20.70.246.20"}}}
	dc := NewDomainChecker(newTestReachability(res, map[string]int{"microsoft.com": 200}), nil, &memChecks{}, nil, DomainConfig{})

	out := dc.Check(context.Background(), "https://www.Microsoft.com/en-us", Hints{})
	assert.False(t, out.Passed)
	assert.Equal(t, "microsoft.com", out.Details["domain"])
	assert.Equal(t, true, out.Details["website_active"])
}

func TestDomainChecker_WhoisRegisteredWithoutDNS(t *testing.T) {
	dc := NewDomainChecker(newTestReachability(&fakeResolver{}, nil), fakeWhois{registered: true}, &memChecks{}, nil, DomainConfig{})

	res := dc.Check(context.Background(), "parked-example.com", Hints{})
	assert.False(t, res.Passed)
	assert.Equal(t, true, res.Details["whois_registered"])
	assert.Equal(t, "Example Registrar", res.Details["registrar"])
}

func TestDomainChecker_WhoisErrorIgnored(t *testing.T) {
	dc := NewDomainChecker(newTestReachability(&fakeResolver{}, nil), fakeWhois{err: errors.New("whois down")}, &memChecks{}, nil, DomainConfig{})

	res := dc.Check(context.Background(), "free-example.com", Hints{})
	assert.True(t, res.Passed)
	assert.Contains(t, res.Details["whois_error"], "whois down")
}

func TestDomainChecker_DNSFailure(t *testing.T) {
	resolver := &fakeResolver{errs: map[string]error{"flaky.com": errors.New("lookup flaky.com: i/o timeout")}}

	t.Run("fail open", func(t *testing.T) {
		dc := NewDomainChecker(newTestReachability(resolver, nil), nil, &memChecks{}, nil, DomainConfig{})
		res := dc.Check(context.Background(), "flaky.com", Hints{})
		assert.True(t, res.Passed)
		assert.Equal(t, resilience.KindTransient, res.Error)
		assert.Contains(t, res.Details["error"], "i/o timeout")
	})

	t.Run("fail closed", func(t *testing.T) {
		dc := NewDomainChecker(newTestReachability(resolver, nil), nil, &memChecks{}, nil, DomainConfig{Policy: FailClosed})
		res := dc.Check(context.Background(), "flaky.com", Hints{})
		assert.False(t, res.Passed)
		assert.True(t, res.Failed())
	})
}

func TestDomainChecker_UpdatesEntityFlag(t *testing.T) {
	flags := &presenceLog{}
	mem := &memChecks{}
	dc := NewDomainChecker(newTestReachability(&fakeResolver{}, nil), nil, mem, flags, DomainConfig{})

	id := "ent-1"
	dc.Check(context.Background(), "free-example.com", Hints{EntityID: &id})

	require.Len(t, flags.updates[id], 1)
	require.NotNil(t, flags.updates[id][0].DomainAvailable)
	assert.True(t, *flags.updates[id][0].DomainAvailable)
	assert.Nil(t, flags.updates[id][0].NegativePressFlag)
	require.NotNil(t, mem.rows[0].EntityID)
	assert.Equal(t, id, *mem.rows[0].EntityID)
}

func TestDomainChecker_StorageFailureReported(t *testing.T) {
	mem := &memChecks{appendErr: errors.New("disk full")}
	dc := NewDomainChecker(newTestReachability(&fakeResolver{}, nil), nil, mem, nil, DomainConfig{})

	res := dc.Check(context.Background(), "free-example.com", Hints{})
	assert.Equal(t, resilience.KindStorage, res.Error)
	assert.Empty(t, res.CheckIDs)
}

func TestReachability_BreakerOpens(t *testing.T) {
	resolver := &fakeResolver{errs: map[string]error{"down.com": errors.New("i/o timeout")}}
	p := newTestReachability(resolver, nil)
	p.Breakers = resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		_, err := p.Resolves(context.Background(), "down.com")
		require.Error(t, err)
	}
	_, err := p.Resolves(context.Background(), "down.com")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, resolver.calls)
}

func TestHostMatches(t *testing.T) {
	tests := []struct {
		url    string
		expect bool
	}{
		{"https://www.linkedin.com/company/microsoft", true},
		{"https://uk.linkedin.com/company/acme", true},
		{"https://x.com/acme", true},
		{"https://notlinkedin.com/acme", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expect, hostMatches(tt.url, SocialHosts))
		})
	}
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "acme.com", DomainOf("https://www.ACME.com/about"))
	assert.Equal(t, "acme.co.uk", DomainOf("acme.co.uk"))
	assert.Empty(t, DomainOf("  "))
}

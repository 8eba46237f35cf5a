package checks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/pkg/registry"
	regmocks "github.com/sells-group/lead-qualifier/pkg/registry/mocks"
)

func TestStatusChecker(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		hint      string
		items     []registry.Company
		err       error
		wantPass  bool
		wantMatch string
		wantErr   resilience.ErrorKind
	}{
		{
			name:    "exact match dissolved",
			subject: "Gone Trading Ltd",
			items: []registry.Company{
				{Title: "GONE TRADING (HOLDINGS) LIMITED", CompanyStatus: "active"},
				{Title: "GONE TRADING LIMITED", CompanyNumber: "0999", CompanyStatus: "dissolved"},
			},
			wantPass:  false,
			wantMatch: "exact",
		},
		{
			name:      "exact match active",
			subject:   "Acme Widgets Ltd",
			items:     []registry.Company{{Title: "ACME WIDGETS LIMITED", CompanyStatus: "active"}},
			wantPass:  true,
			wantMatch: "exact",
		},
		{
			name:    "similar active",
			subject: "Acme",
			items: []registry.Company{
				{Title: "ACME HOLDINGS PLC", CompanyStatus: "liquidation"},
				{Title: "ACME SERVICES LTD", CompanyStatus: "active"},
			},
			wantPass:  true,
			wantMatch: "similar",
		},
		{
			name:      "similar none active",
			subject:   "Acme",
			items:     []registry.Company{{Title: "ACME HOLDINGS PLC", CompanyStatus: "dissolved"}},
			wantPass:  false,
			wantMatch: "similar",
		},
		{
			name:      "no results uses candidate status",
			subject:   "Old Firm Ltd",
			hint:      "Dissolved",
			wantPass:  false,
			wantMatch: "candidate",
		},
		{
			name:      "no results no hint",
			subject:   "Brand New Ltd",
			wantPass:  true,
			wantMatch: "none",
		},
		{
			name:      "registry outage assumes active",
			subject:   "Gone Trading Ltd",
			hint:      "dissolved",
			err:       resilience.NewTransientError(errors.New("registry: unexpected status 503: "), 503),
			wantPass:  true,
			wantMatch: "default",
			wantErr:   resilience.KindTransient,
		},
		{
			name:      "missing credentials assumes active",
			subject:   "Acme",
			err:       &resilience.AuthError{Err: errors.New("registry: api key not configured")},
			wantPass:  true,
			wantMatch: "default",
			wantErr:   resilience.KindAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := regmocks.NewMockClient(t)
			rc.On("SearchCompanies", mock.Anything, tt.subject).Return(tt.items, tt.err)

			mem := &memChecks{}
			res := NewStatusChecker(rc, nil, mem, StatusConfig{}).Check(context.Background(), tt.subject, Hints{RegistryStatus: tt.hint})
			assert.Equal(t, tt.wantPass, res.Passed)
			assert.Equal(t, tt.wantMatch, res.Details["match"])
			assert.Equal(t, tt.wantErr, res.Error)
			assert.Len(t, mem.ofType(model.CheckActiveStatus), 1)
		})
	}
}

func TestStatusChecker_FailClosed(t *testing.T) {
	rc := regmocks.NewMockClient(t)
	rc.On("SearchCompanies", mock.Anything, "Acme").Return(nil, errors.New("i/o timeout"))

	res := NewStatusChecker(rc, nil, &memChecks{}, StatusConfig{Policy: FailClosed}).Check(context.Background(), "Acme", Hints{})
	assert.False(t, res.Passed)
}

func TestInactiveStatus(t *testing.T) {
	assert.True(t, InactiveStatus(" Dissolved "))
	assert.True(t, InactiveStatus("liquidation"))
	assert.False(t, InactiveStatus("active"))
	assert.False(t, InactiveStatus(""))
}

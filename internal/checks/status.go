package checks

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/lead-qualifier/internal/canon"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
	"github.com/sells-group/lead-qualifier/pkg/registry"
)

// StatusConfig configures the registry active-status checker.
type StatusConfig struct {
	Timeout time.Duration
	Policy  Policy
}

// StatusChecker asks a company registry whether the subject company is active.
type StatusChecker struct {
	registry registry.Client
	breakers *resilience.ServiceBreakers
	rec      recorder
	cfg      StatusConfig
}

// NewStatusChecker creates an active-status checker.
func NewStatusChecker(rc registry.Client, breakers *resilience.ServiceBreakers, cs store.CheckStore, cfg StatusConfig) *StatusChecker {
	if cfg.Policy == "" {
		cfg.Policy = FailOpen
	}
	return &StatusChecker{registry: rc, breakers: breakers, rec: newRecorder(cs), cfg: cfg}
}

// Type implements Checker.
func (s *StatusChecker) Type() model.CheckType { return model.CheckActiveStatus }

// Check implements Checker. An exact canonical-name match decides; otherwise
// any similarly named active company counts as active. With no registry
// results the candidate's own registry status is used, and an unknown
// status is treated as active.
func (s *StatusChecker) Check(ctx context.Context, subject string, hints Hints) Result {
	start := time.Now()
	ctx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res := Result{Type: model.CheckActiveStatus, Details: map[string]any{}}

	items, err := call(ctx, s.breakers, "registry", func(ctx context.Context) ([]registry.Company, error) {
		return s.registry.SearchCompanies(ctx, subject)
	})
	if err != nil {
		res.Passed = degrade(res.Type, subject, "registry", s.cfg.Policy, err)
		res.Error = resilience.Kind(err)
		res.Details["error"] = err.Error()
		res.Details["is_active"] = res.Passed
		res.Details["match"] = "default"
		s.rec.record(ctx, &res, res.Type, subject, res.Passed, res.Details, hints.EntityID)
		observe(res.Type, start, res)
		return res
	}

	active, match, company := decideStatus(subject, items, hints.RegistryStatus)
	res.Passed = active
	res.Details["is_active"] = active
	res.Details["match"] = match
	res.Details["results"] = len(items)
	if company != nil {
		res.Details["company_number"] = company.CompanyNumber
		res.Details["company_status"] = company.CompanyStatus
		res.Details["matched_name"] = company.Title
	}
	s.rec.record(ctx, &res, res.Type, subject, res.Passed, res.Details, hints.EntityID)
	observe(res.Type, start, res)
	return res
}

func decideStatus(subject string, items []registry.Company, hint string) (bool, string, *registry.Company) {
	key := canon.Key(subject)
	for i := range items {
		if canon.Key(items[i].Title) == key {
			return items[i].Active(), "exact", &items[i]
		}
	}
	for i := range items {
		if items[i].Active() {
			return true, "similar", &items[i]
		}
	}
	if len(items) > 0 {
		return false, "similar", &items[0]
	}
	if hint != "" {
		return !InactiveStatus(hint), "candidate", nil
	}
	return true, "none", nil
}

// InactiveStatus reports whether a registry status string means the company
// is no longer trading.
func InactiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "dissolved", "inactive", "closed", "liquidation", "removed", "converted-closed",
		"receivership", "insolvency-proceedings", "struck-off":
		return true
	}
	return false
}

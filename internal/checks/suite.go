package checks

import (
	"context"

	"github.com/sells-group/lead-qualifier/internal/canon"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// Suite is the set of configured checkers.
type Suite struct {
	Domain   Checker
	Press    Checker
	Presence Checker
	Status   Checker
}

// ForType returns the checker that records t. social_media and web_search
// are recorded by the presence checker.
func (s *Suite) ForType(t model.CheckType) (Checker, error) {
	var c Checker
	switch t {
	case model.CheckDomainAvailability:
		c = s.Domain
	case model.CheckNegativePress:
		c = s.Press
	case model.CheckWebsite, model.CheckSocialMedia, model.CheckWebSearch:
		c = s.Presence
	case model.CheckActiveStatus:
		c = s.Status
	default:
		return nil, resilience.NewValidationError("check_type", "unknown check type %q", t)
	}
	if c == nil {
		return nil, resilience.NewValidationError("check_type", "checker %q is not configured", t)
	}
	return c, nil
}

// PrimaryDomain is the domain whose availability is checked for a company:
// its known website's host, else the full-name candidate domain.
func PrimaryDomain(name, website string) string {
	if d := DomainOf(website); d != "" {
		return d
	}
	cands := canon.DomainCandidates(name)
	if len(cands) == 0 {
		return ""
	}
	return cands[len(cands)-1]
}

// Refresh runs every configured checker for a persisted entity, linking the
// recorded results to it. Results are returned in aggregation order.
func (s *Suite) Refresh(ctx context.Context, e *model.Entity) []Result {
	hints := Hints{
		EntityID:       &e.ID,
		Website:        e.Website(),
		RegistryStatus: e.Status,
	}

	var out []Result
	if s.Status != nil {
		out = append(out, s.Status.Check(ctx, e.LegalName, hints))
	}
	if s.Press != nil {
		out = append(out, s.Press.Check(ctx, e.LegalName, hints))
	}
	if s.Domain != nil {
		if d := PrimaryDomain(e.LegalName, e.Website()); d != "" {
			out = append(out, s.Domain.Check(ctx, d, hints))
		}
	}
	if s.Presence != nil {
		out = append(out, s.Presence.Check(ctx, e.LegalName, hints))
	}
	return out
}

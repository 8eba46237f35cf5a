package checks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
	"github.com/sells-group/lead-qualifier/pkg/whois"
)

// PresenceUpdater persists denormalized checker flags onto an entity.
type PresenceUpdater interface {
	UpdatePresence(ctx context.Context, id string, p store.PresenceUpdate) error
}

// DomainConfig configures the domain availability checker.
type DomainConfig struct {
	Timeout time.Duration
	Policy  Policy
}

// DomainChecker decides whether a domain is available to register. The
// subject is a bare domain name.
type DomainChecker struct {
	reach    *Reachability
	whois    whois.Client
	breakers *resilience.ServiceBreakers
	entities PresenceUpdater
	rec      recorder
	cfg      DomainConfig
}

// NewDomainChecker creates a domain checker. whoisClient and entities may be nil.
func NewDomainChecker(reach *Reachability, whoisClient whois.Client, cs store.CheckStore, entities PresenceUpdater, cfg DomainConfig) *DomainChecker {
	if cfg.Policy == "" {
		cfg.Policy = FailOpen
	}
	return &DomainChecker{
		reach:    reach,
		whois:    whoisClient,
		breakers: reach.Breakers,
		entities: entities,
		rec:      newRecorder(cs),
		cfg:      cfg,
	}
}

// Type implements Checker.
func (d *DomainChecker) Type() model.CheckType { return model.CheckDomainAvailability }

// Check implements Checker. A domain is available when it has no DNS records,
// no reachable site and no WHOIS registration.
func (d *DomainChecker) Check(ctx context.Context, subject string, hints Hints) Result {
	start := time.Now()
	ctx, cancel := withTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	domain := DomainOf(subject)
	res := Result{Type: model.CheckDomainAvailability, Details: map[string]any{"domain": domain}}

	hasDNS, err := d.reach.Resolves(ctx, domain)
	if err != nil {
		res.Passed = degrade(res.Type, domain, "dns", d.cfg.Policy, err)
		res.Error = resilience.Kind(err)
		res.Details["error"] = err.Error()
		res.Details["available"] = res.Passed
		d.finish(ctx, &res, domain, hints)
		observe(res.Type, start, res)
		return res
	}
	res.Details["has_dns"] = hasDNS

	websiteActive := false
	if hasDNS {
		websiteActive, err = d.reach.Reachable(ctx, "https://"+domain)
		if err != nil {
			res.Details["http_error"] = err.Error()
		}
	}
	res.Details["website_active"] = websiteActive

	registered := false
	if d.whois != nil {
		rec, err := call(ctx, d.breakers, "whois", func(ctx context.Context) (*whois.Record, error) {
			return d.whois.Lookup(ctx, domain)
		})
		if err != nil {
			zap.L().Debug("checks: whois lookup failed", zap.String("domain", domain), zap.Error(err))
			res.Details["whois_error"] = err.Error()
		} else {
			registered = rec.Registered
			res.Details["whois_registered"] = rec.Registered
			if rec.Registrar != "" {
				res.Details["registrar"] = rec.Registrar
			}
			if rec.ExpiresAt != nil {
				res.Details["expires_at"] = rec.ExpiresAt.UTC().Format(time.RFC3339)
			}
		}
	}

	available := !hasDNS && !websiteActive && !registered
	res.Passed = available
	res.Details["available"] = available
	d.finish(ctx, &res, domain, hints)
	observe(res.Type, start, res)
	return res
}

func (d *DomainChecker) finish(ctx context.Context, res *Result, domain string, hints Hints) {
	d.rec.record(ctx, res, res.Type, domain, res.Passed, res.Details, hints.EntityID)
	d.observeHit(ctx, res, hints)
}

func (d *DomainChecker) observeHit(ctx context.Context, res *Result, hints Hints) {
	if d.entities == nil || hints.EntityID == nil || res.Failed() {
		return
	}
	if err := d.entities.UpdatePresence(ctx, *hints.EntityID, store.PresenceUpdate{DomainAvailable: boolPtr(res.Passed)}); err != nil {
		zap.L().Error("checks: update domain flag", zap.String("entity_id", *hints.EntityID), zap.Error(err))
		res.Error = resilience.KindStorage
	}
}

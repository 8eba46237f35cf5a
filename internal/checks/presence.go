package checks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/canon"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
	"github.com/sells-group/lead-qualifier/pkg/websearch"
)

// Detail keys of the presence result read by the filter chain.
const (
	DetailHasWebsite    = "has_website"
	DetailWebsite       = "website"
	DetailPresenceScore = "presence_score"
	DetailPolicy        = "policy"
)

// SearchResultThreshold is the web search result count above which a
// company counts as present online.
const SearchResultThreshold = 5

// SocialHosts are the hosts treated as social profiles.
var SocialHosts = []string{"linkedin.com", "twitter.com", "x.com", "facebook.com"}

// PresenceConfig configures the online presence checker.
type PresenceConfig struct {
	Timeout time.Duration
	Policy  Policy
}

// PresenceChecker looks for an existing website, social profiles and web
// search footprint for a company name. It passes when nothing is found.
type PresenceChecker struct {
	reach  *Reachability
	search websearch.Client
	rec    recorder
	cfg    PresenceConfig
}

// NewPresenceChecker creates a presence checker. search may be nil.
func NewPresenceChecker(reach *Reachability, search websearch.Client, cs store.CheckStore, cfg PresenceConfig) *PresenceChecker {
	if cfg.Policy == "" {
		cfg.Policy = FailOpen
	}
	return &PresenceChecker{reach: reach, search: search, rec: newRecorder(cs), cfg: cfg}
}

// Type implements Checker.
func (p *PresenceChecker) Type() model.CheckType { return model.CheckWebsite }

type presence struct {
	domains      []string
	domainExists bool
	active       bool
	website      string
	socials      []string
	totalResults int64
	searched     bool
	errs         []error
}

func (pr presence) hasWebsite() bool { return pr.domainExists || pr.active }

func (pr presence) found() bool {
	return pr.hasWebsite() || len(pr.socials) > 0 || pr.totalResults > SearchResultThreshold
}

func (pr presence) score() float64 {
	signals := 0
	for _, b := range []bool{pr.domainExists, pr.active, len(pr.socials) > 0, pr.totalResults > SearchResultThreshold} {
		if b {
			signals++
		}
	}
	return float64(signals) / 4
}

// Check implements Checker. It records a website result and, when the web
// search ran, social_media and web_search results.
func (p *PresenceChecker) Check(ctx context.Context, subject string, hints Hints) Result {
	start := time.Now()
	ctx, cancel := withTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	pr := p.discover(ctx, subject, hints)

	res := Result{
		Type:   model.CheckWebsite,
		Passed: !pr.found(),
		Details: map[string]any{
			"domains_checked":   pr.domains,
			"domain_exists":     pr.domainExists,
			"website_active":    pr.active,
			DetailHasWebsite:    pr.hasWebsite(),
			DetailWebsite:       pr.website,
			DetailPresenceScore: pr.score(),
			"has_presence":      pr.found(),
		},
	}
	if pr.searched {
		res.Details["social_profiles"] = pr.socials
		res.Details["total_results"] = pr.totalResults
	}

	websitePassed := !pr.hasWebsite()

	// Every lookup failed and nothing was found: the verdict is unknown.
	if !pr.found() && len(pr.errs) > 0 && len(pr.errs) >= len(pr.domains) {
		err := pr.errs[0]
		res.Error = resilience.Kind(err)
		res.Details["error"] = err.Error()
		res.Details[DetailPolicy] = string(p.cfg.Policy.Effective())
		if !degrade(res.Type, subject, "presence", p.cfg.Policy, err) {
			res.Passed = false
			websitePassed = false
			res.Details[DetailHasWebsite] = true
		}
	}

	p.rec.record(ctx, &res, model.CheckWebsite, subject, websitePassed, res.Details, hints.EntityID)
	if pr.searched {
		p.rec.record(ctx, &res, model.CheckSocialMedia, subject, len(pr.socials) == 0,
			map[string]any{"social_profiles": pr.socials}, hints.EntityID)
		p.rec.record(ctx, &res, model.CheckWebSearch, subject, pr.totalResults <= SearchResultThreshold,
			map[string]any{"total_results": pr.totalResults, "threshold": SearchResultThreshold}, hints.EntityID)
	}
	observe(res.Type, start, res)
	return res
}

func (p *PresenceChecker) discover(ctx context.Context, subject string, hints Hints) presence {
	var pr presence

	domains := hints.Domains
	if len(domains) == 0 {
		domains = canon.DomainCandidates(subject)
	}
	if known := DomainOf(hints.Website); known != "" {
		domains = append([]string{known}, domains...)
	}
	pr.domains = dedupe(domains)

	for _, d := range pr.domains {
		ok, err := p.reach.Resolves(ctx, d)
		if err != nil {
			pr.errs = append(pr.errs, err)
			continue
		}
		if !ok {
			continue
		}
		pr.domainExists = true

		url := "https://" + d
		reachable, err := p.reach.Reachable(ctx, url)
		if err != nil {
			zap.L().Debug("checks: website head failed", zap.String("url", url), zap.Error(err))
			continue
		}
		if reachable {
			pr.active = true
			if pr.website == "" {
				pr.website = url
			}
		}
	}

	if p.search == nil || hints.WebsiteOnly {
		return pr
	}

	query := fmt.Sprintf("%q linkedin OR twitter OR facebook", subject)
	sr, err := call(ctx, p.reach.Breakers, "search", func(ctx context.Context) (*websearch.Result, error) {
		return p.search.Search(ctx, query)
	})
	if err != nil {
		zap.L().Warn("checks: web search failed, skipping social signals",
			zap.String("subject", subject),
			zap.String("policy", string(FailOpen)),
			zap.Error(err),
		)
		return pr
	}

	pr.searched = true
	pr.totalResults = sr.TotalResults
	pr.socials = []string{}
	for _, item := range sr.Items {
		if hostMatches(item.Link, SocialHosts) {
			pr.socials = append(pr.socials, item.Link)
		}
	}
	return pr
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

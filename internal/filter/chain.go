// Package filter runs inbound candidates through the ordered filter chain,
// deduplicates survivors and persists them as scored entities.
package filter

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/lead-qualifier/internal/canon"
	"github.com/sells-group/lead-qualifier/internal/checks"
	"github.com/sells-group/lead-qualifier/internal/metrics"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
)

// DefaultWebsiteTimeout bounds the website step per candidate.
const DefaultWebsiteTimeout = time.Second

// Verdict is the outcome of one step: pass, or reject with details.
type Verdict struct {
	Reject  bool
	Details map[string]any
}

// Pass continues the chain.
func Pass(details map[string]any) Verdict { return Verdict{Details: details} }

// Reject stops the chain.
func Reject(details map[string]any) Verdict { return Verdict{Reject: true, Details: details} }

// State accumulates what the chain learns about one candidate.
type State struct {
	JobID      string
	Candidate  model.CandidateEntity
	Key        string
	Suppressed map[string]struct{}

	Website       string
	PresenceScore float64
	CheckIDs      []string
	Audit         []model.AuditRecord
}

// Step is one named filter. A returned error aborts the whole batch.
type Step struct {
	Filter model.FilterType
	Run    func(ctx context.Context, st *State) (Verdict, error)
}

// Chain is an ordered AND of steps with early exit. Every executed step
// produces one audit record, and a candidate that survives all steps gets a
// final passed record.
type Chain struct {
	steps []Step
	now   func() time.Time
}

// NewChain creates a chain from steps in order.
func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps, now: time.Now}
}

// DefaultChain is suppressed, then no_website, then inactive.
func DefaultChain(presence, status checks.Checker, websiteTimeout time.Duration) *Chain {
	return NewChain(
		SuppressionStep(),
		WebsiteStep(presence, websiteTimeout),
		ActiveStep(status),
	)
}

// Run evaluates st.Candidate and reports whether it passed.
func (c *Chain) Run(ctx context.Context, st *State) (bool, error) {
	if st.Key == "" {
		st.Key = canon.Key(st.Candidate.LegalName)
	}
	for _, step := range c.steps {
		v, err := step.Run(ctx, st)
		if err != nil {
			return false, err
		}
		c.audit(st, step.Filter, v.Reject, v.Details)
		if v.Reject {
			return false, nil
		}
	}
	c.audit(st, model.FilterPassed, false, map[string]any{
		"website":        st.Website,
		"presence_score": st.PresenceScore,
	})
	return true, nil
}

func (c *Chain) audit(st *State, ft model.FilterType, blocked bool, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	st.Audit = append(st.Audit, model.AuditRecord{
		ID:          uuid.NewString(),
		CompanyName: st.Candidate.LegalName,
		JobID:       st.JobID,
		FilterType:  ft,
		Blocked:     blocked,
		Details:     details,
		CreatedAt:   c.now().UTC(),
	})
	metrics.FilterDecisions.WithLabelValues(string(ft), strconv.FormatBool(blocked)).Inc()
}

// SuppressionStep rejects candidates whose canonical key is suppressed or empty.
func SuppressionStep() Step {
	return Step{
		Filter: model.FilterSuppressed,
		Run: func(_ context.Context, st *State) (Verdict, error) {
			details := map[string]any{"canonical_key": st.Key}
			if st.Key == "" {
				details["reason"] = "empty canonical name"
				return Reject(details), nil
			}
			if _, ok := st.Suppressed[st.Key]; ok {
				details["reason"] = "suppressed"
				return Reject(details), nil
			}
			return Pass(details), nil
		},
	}
}

// WebsiteStep rejects candidates with no discoverable website. The lookup
// runs under its own short timeout; a lookup that fails outright does not
// reject.
func WebsiteStep(presence checks.Checker, timeout time.Duration) Step {
	if timeout <= 0 {
		timeout = DefaultWebsiteTimeout
	}
	return Step{
		Filter: model.FilterNoWebsite,
		Run: func(ctx context.Context, st *State) (Verdict, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			res := presence.Check(ctx, st.Candidate.LegalName, checks.Hints{
				Website:     st.Candidate.Website(),
				WebsiteOnly: true,
			})
			st.CheckIDs = append(st.CheckIDs, res.CheckIDs...)
			if res.Error == resilience.KindStorage {
				return Verdict{}, resilience.NewStorageError("filter: record website check", errCheckNotRecorded)
			}

			hasWebsite, _ := res.Details[checks.DetailHasWebsite].(bool)
			if w, _ := res.Details[checks.DetailWebsite].(string); w != "" {
				st.Website = w
			}
			if s, ok := res.Details[checks.DetailPresenceScore].(float64); ok {
				st.PresenceScore = s
			}

			details := map[string]any{"has_website": hasWebsite, "website": st.Website}
			if res.Failed() {
				details["error"] = string(res.Error)
				policy, _ := res.Details[checks.DetailPolicy].(string)
				details["policy"] = string(checks.Policy(policy).Effective())
				return Pass(details), nil
			}
			if !hasWebsite {
				return Reject(details), nil
			}
			return Pass(details), nil
		},
	}
}

// ActiveStep rejects candidates the registry reports as not active.
func ActiveStep(status checks.Checker) Step {
	return Step{
		Filter: model.FilterInactive,
		Run: func(ctx context.Context, st *State) (Verdict, error) {
			res := status.Check(ctx, st.Candidate.LegalName, checks.Hints{RegistryStatus: st.Candidate.Status})
			st.CheckIDs = append(st.CheckIDs, res.CheckIDs...)
			if res.Error == resilience.KindStorage {
				return Verdict{}, resilience.NewStorageError("filter: record status check", errCheckNotRecorded)
			}

			details := map[string]any{"is_active": res.Passed}
			for _, k := range []string{"match", "company_status", "company_number", "error"} {
				if v, ok := res.Details[k]; ok {
					details[k] = v
				}
			}
			if !res.Passed {
				return Reject(details), nil
			}
			return Pass(details), nil
		},
	}
}

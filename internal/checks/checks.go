// Package checks implements the per-candidate external checkers. A checker
// never returns an error: a failed external call resolves to the checker's
// default verdict and the failure kind is reported in Result.Error.
package checks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/metrics"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
)

// Hints carries optional context for a check.
type Hints struct {
	// EntityID links recorded results to a persisted entity and enables
	// presence flag updates. Nil while the candidate is still being filtered.
	EntityID *string
	// Domains overrides the domains derived from the subject.
	Domains []string
	// Website is a website already known for the candidate.
	Website string
	// RegistryStatus is the status string delivered with the candidate.
	RegistryStatus string
	// WebsiteOnly skips the web search part of the presence check.
	WebsiteOnly bool
}

// Result is a checker verdict.
type Result struct {
	Type    model.CheckType      `json:"check_type"`
	Passed  bool                 `json:"passed"`
	Details map[string]any       `json:"details"`
	Error   resilience.ErrorKind `json:"error,omitempty"`
	// CheckIDs are the CheckResult rows written by this call.
	CheckIDs []string `json:"-"`
}

// Failed reports whether the external call behind the verdict failed.
func (r Result) Failed() bool { return r.Error != "" }

// Checker is one pluggable check.
type Checker interface {
	Type() model.CheckType
	Check(ctx context.Context, subject string, hints Hints) Result
}

// Policy selects the verdict used when the external dependency fails.
type Policy string

const (
	FailOpen   Policy = "fail_open"
	FailClosed Policy = "fail_closed"
)

func (p Policy) verdict() bool { return p != FailClosed }

// Effective names the policy actually applied; unset means fail open.
func (p Policy) Effective() Policy {
	if p == FailClosed {
		return FailClosed
	}
	return FailOpen
}

// recorder appends CheckResult rows. A nil store records nothing.
type recorder struct {
	store store.CheckStore
	now   func() time.Time
}

func newRecorder(cs store.CheckStore) recorder {
	return recorder{store: cs, now: time.Now}
}

// record writes one row and returns its id, or "" when nothing was written.
// Storage failures are reported as KindStorage on the result.
func (r recorder) record(ctx context.Context, res *Result, t model.CheckType, subject string, passed bool, details map[string]any, entityID *string) {
	if r.store == nil {
		return
	}
	row := &model.CheckResult{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		CheckType: t,
		Subject:   subject,
		Passed:    passed,
		Details:   details,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.AppendCheck(ctx, row); err != nil {
		zap.L().Error("checks: record result",
			zap.String("check_type", string(t)),
			zap.String("subject", subject),
			zap.Error(err),
		)
		res.Error = resilience.KindStorage
		return
	}
	res.CheckIDs = append(res.CheckIDs, row.ID)
}

// degrade logs a failed external call and returns the policy verdict.
func degrade(t model.CheckType, subject, service string, policy Policy, err error) bool {
	verdict := policy.verdict()
	zap.L().Warn("checks: external call failed, using default verdict",
		zap.String("check_type", string(t)),
		zap.String("subject", subject),
		zap.String("service", service),
		zap.String("policy", string(policy)),
		zap.Bool("verdict", verdict),
		zap.String("error_kind", string(resilience.Kind(err))),
		zap.Error(err),
	)
	metrics.CheckOutcomes.WithLabelValues(string(t), string(policy)).Inc()
	return verdict
}

func observe(t model.CheckType, start time.Time, res Result) {
	metrics.CheckDuration.WithLabelValues(string(t)).Observe(time.Since(start).Seconds())
	if res.Failed() {
		return
	}
	outcome := "failed"
	if res.Passed {
		outcome = "passed"
	}
	metrics.CheckOutcomes.WithLabelValues(string(t), outcome).Inc()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func boolPtr(b bool) *bool { return &b }

// call runs fn behind the named service's circuit breaker when breakers is set.
func call[T any](ctx context.Context, breakers *resilience.ServiceBreakers, service string, fn func(context.Context) (T, error)) (T, error) {
	if breakers == nil {
		return fn(ctx)
	}
	return resilience.ExecuteVal(ctx, breakers.Get(service), fn)
}

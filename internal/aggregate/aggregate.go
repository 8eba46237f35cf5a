// Package aggregate turns an entity's accumulated check history into a
// qualification decision.
package aggregate

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/checks"
	"github.com/sells-group/lead-qualifier/internal/model"
)

// FailureNotes are the filter notes written for each failed criterion.
var FailureNotes = map[model.CheckType]string{
	model.CheckActiveStatus:       "Failed: Company not active",
	model.CheckNegativePress:      "Failed: Negative press detected",
	model.CheckDomainAvailability: "Failed: Domain not available",
	model.CheckWebsite:            "Failed: Website already exists",
	model.CheckSocialMedia:        "Failed: Social media presence found",
	model.CheckWebSearch:          "Failed: Significant web presence",
}

// Result is the aggregation response.
type Result struct {
	EntityID      string                    `json:"entity_id"`
	OverallStatus model.QualificationStatus `json:"overall_status"`
	PassedChecks  []model.CheckType         `json:"passed_checks"`
	FailedChecks  []model.CheckType         `json:"failed_checks"`
	FilterNotes   []string                  `json:"filter_notes"`
	Score         int                       `json:"score"`
}

// Evaluate applies the six criteria to results. Only the newest result of
// each type counts; a type with no result passes. Results sharing a
// timestamp keep their input order, so the first one wins.
func Evaluate(results []model.CheckResult) Result {
	sorted := make([]model.CheckResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	latest := make(map[model.CheckType]model.CheckResult, len(model.CheckTypes))
	for _, r := range sorted {
		if _, seen := latest[r.CheckType]; !seen {
			latest[r.CheckType] = r
		}
	}

	res := Result{
		PassedChecks: []model.CheckType{},
		FailedChecks: []model.CheckType{},
		FilterNotes:  []string{},
	}
	for _, t := range model.CheckTypes {
		r, ok := latest[t]
		if !ok || r.Passed {
			res.PassedChecks = append(res.PassedChecks, t)
			continue
		}
		res.FailedChecks = append(res.FailedChecks, t)
		res.FilterNotes = append(res.FilterNotes, FailureNotes[t])
	}

	res.OverallStatus = model.QualificationQualified
	if len(res.FailedChecks) > 0 {
		res.OverallStatus = model.QualificationRejected
	}
	return res
}

// Store is the persistence the aggregator needs.
type Store interface {
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	ListChecks(ctx context.Context, entityID string) ([]model.CheckResult, error)
	UpdateQualification(ctx context.Context, id string, status model.QualificationStatus, notes []string) error
}

// Aggregator computes and persists qualification decisions.
type Aggregator struct {
	store Store
	suite *checks.Suite
}

// New creates an aggregator. suite is only needed for Refresh.
func New(st Store, suite *checks.Suite) *Aggregator {
	return &Aggregator{store: st, suite: suite}
}

// Aggregate evaluates the entity's check history and stores the decision.
// An entity already flagged, dismissed or exported by a person keeps its
// status; the computed decision is still returned.
func (a *Aggregator) Aggregate(ctx context.Context, entityID string) (*Result, error) {
	e, err := a.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: get entity %s", entityID)
	}
	results, err := a.store.ListChecks(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: list checks %s", entityID)
	}

	res := Evaluate(results)
	res.EntityID = e.ID
	res.Score = e.Score

	log := zap.L().With(zap.String("component", "aggregator"), zap.String("entity_id", e.ID))
	if e.QualificationStatus.IsHuman() {
		log.Info("entity has a human status, decision not stored",
			zap.String("status", string(e.QualificationStatus)),
			zap.String("computed", string(res.OverallStatus)),
		)
		return &res, nil
	}

	if err := a.store.UpdateQualification(ctx, e.ID, res.OverallStatus, res.FilterNotes); err != nil {
		return nil, eris.Wrapf(err, "aggregate: update qualification %s", entityID)
	}
	log.Info("entity aggregated",
		zap.String("status", string(res.OverallStatus)),
		zap.Int("failed", len(res.FailedChecks)),
	)
	return &res, nil
}

// Refresh runs every checker for the entity, then aggregates.
func (a *Aggregator) Refresh(ctx context.Context, entityID string) (*Result, error) {
	if a.suite == nil {
		return nil, eris.New("aggregate: no checkers configured")
	}
	e, err := a.store.GetEntity(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: get entity %s", entityID)
	}
	a.suite.Refresh(ctx, e)
	return a.Aggregate(ctx, entityID)
}

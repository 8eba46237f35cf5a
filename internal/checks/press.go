package checks

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/internal/store"
	"github.com/sells-group/lead-qualifier/pkg/classify"
	"github.com/sells-group/lead-qualifier/pkg/news"
)

// NegativeKeywords is the lexicon scanned in article titles and descriptions.
var NegativeKeywords = []string{
	"fraud", "lawsuit", "scandal", "bankruptcy", "investigation", "criminal", "illegal",
	"suspended", "fined", "violation", "breach", "misconduct", "controversy", "accused",
}

// NegativeLabels are the zero-shot topics scored by the classifier.
var NegativeLabels = []string{"fraud", "lawsuit", "bankruptcy", "criminal investigation", "regulatory fine"}

// DefaultPressThreshold is the score at or above which press is negative.
const DefaultPressThreshold = 0.60

// PressConfig configures the negative press checker.
type PressConfig struct {
	Timeout     time.Duration
	Policy      Policy
	Threshold   float64
	MaxArticles int
	// MaxClassified caps the articles sent to the classifier.
	MaxClassified int
}

// PressChecker scores news coverage of the subject company name.
type PressChecker struct {
	news       news.Client
	classifier classify.Classifier
	breakers   *resilience.ServiceBreakers
	entities   PresenceUpdater
	rec        recorder
	cfg        PressConfig
}

// NewPressChecker creates a negative press checker. classifier and entities may be nil.
func NewPressChecker(nc news.Client, classifier classify.Classifier, breakers *resilience.ServiceBreakers, cs store.CheckStore, entities PresenceUpdater, cfg PressConfig) *PressChecker {
	if cfg.Policy == "" {
		cfg.Policy = FailOpen
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultPressThreshold
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = 20
	}
	if cfg.MaxClassified <= 0 {
		cfg.MaxClassified = 5
	}
	return &PressChecker{
		news:       nc,
		classifier: classifier,
		breakers:   breakers,
		entities:   entities,
		rec:        newRecorder(cs),
		cfg:        cfg,
	}
}

// Type implements Checker.
func (p *PressChecker) Type() model.CheckType { return model.CheckNegativePress }

// Check implements Checker.
func (p *PressChecker) Check(ctx context.Context, subject string, hints Hints) Result {
	start := time.Now()
	ctx, cancel := withTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	res := Result{Type: model.CheckNegativePress, Details: map[string]any{"threshold": p.cfg.Threshold}}

	articles, err := call(ctx, p.breakers, "news", func(ctx context.Context) ([]news.Article, error) {
		return p.news.Search(ctx, subject, p.cfg.MaxArticles)
	})
	if err != nil {
		res.Passed = degrade(res.Type, subject, "news", p.cfg.Policy, err)
		res.Error = resilience.Kind(err)
		res.Details["error"] = err.Error()
		res.Details["articles_checked"] = 0
		res.Details["has_negative_press"] = !res.Passed
		p.finish(ctx, &res, subject, hints)
		observe(res.Type, start, res)
		return res
	}

	hits, matched := KeywordHits(articles)
	score := 0.0
	if len(articles) > 0 {
		score = float64(hits) / float64(len(articles))
	}
	res.Details["articles_checked"] = len(articles)
	res.Details["keyword_hits"] = hits
	res.Details["matched_keywords"] = matched
	res.Details["negative_score"] = score

	final := score
	if p.classifier != nil && len(articles) > 0 {
		if sentiment, label, ok := p.sentiment(ctx, subject, articles); ok {
			res.Details["sentiment_score"] = sentiment
			res.Details["sentiment_label"] = label
			final = sentiment
		}
	}

	negative := final >= p.cfg.Threshold
	res.Passed = !negative
	res.Details["has_negative_press"] = negative
	p.finish(ctx, &res, subject, hints)
	observe(res.Type, start, res)
	return res
}

// sentiment returns the maximum label score across classified articles.
// ok is false when no article could be classified.
func (p *PressChecker) sentiment(ctx context.Context, subject string, articles []news.Article) (float64, string, bool) {
	var (
		best      float64
		bestLabel string
		ok        bool
	)
	for i, a := range articles {
		if i >= p.cfg.MaxClassified {
			break
		}
		text := strings.TrimSpace(a.Title + ". " + a.Description)
		scores, err := call(ctx, p.breakers, "classifier", func(ctx context.Context) (map[string]float64, error) {
			return p.classifier.Classify(ctx, text, NegativeLabels)
		})
		if err != nil {
			zap.L().Warn("checks: classifier failed, using keyword score",
				zap.String("subject", subject),
				zap.Error(err),
			)
			break
		}
		ok = true
		if label, s := classify.MaxScore(scores); s > best {
			best, bestLabel = s, label
		}
	}
	return best, bestLabel, ok
}

func (p *PressChecker) finish(ctx context.Context, res *Result, subject string, hints Hints) {
	p.rec.record(ctx, res, res.Type, subject, res.Passed, res.Details, hints.EntityID)
	p.observeHit(ctx, res, hints)
}

func (p *PressChecker) observeHit(ctx context.Context, res *Result, hints Hints) {
	if p.entities == nil || hints.EntityID == nil || res.Failed() {
		return
	}
	if err := p.entities.UpdatePresence(ctx, *hints.EntityID, store.PresenceUpdate{NegativePressFlag: boolPtr(!res.Passed)}); err != nil {
		zap.L().Error("checks: update press flag", zap.String("entity_id", *hints.EntityID), zap.Error(err))
		res.Error = resilience.KindStorage
	}
}

// KeywordHits counts, across articles, how many lexicon keywords appear in
// each article's title and description. It also returns the distinct
// matched keywords in sorted order.
func KeywordHits(articles []news.Article) (int, []string) {
	seen := make(map[string]struct{})
	hits := 0
	for _, a := range articles {
		text := strings.ToLower(a.Title + " " + a.Description)
		for _, kw := range NegativeKeywords {
			if strings.Contains(text, kw) {
				hits++
				seen[kw] = struct{}{}
			}
		}
	}
	matched := make([]string, 0, len(seen))
	for kw := range seen {
		matched = append(matched, kw)
	}
	sort.Strings(matched)
	return hits, matched
}

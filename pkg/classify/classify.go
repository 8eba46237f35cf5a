// Package classify scores text against candidate topic labels using an
// external zero-shot classification service.
package classify

import (
	"context"
)

// Classifier returns a score in [0,1] for every label.
type Classifier interface {
	Classify(ctx context.Context, text string, labels []string) (map[string]float64, error)
}

// MaxScore returns the largest score in scores and the label that produced it.
func MaxScore(scores map[string]float64) (string, float64) {
	var (
		best  string
		score float64
	)
	for label, s := range scores {
		if s > score || (s == score && best != "" && label < best) {
			best, score = label, s
		}
	}
	return best, score
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

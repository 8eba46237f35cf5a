package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/pkg/anthropic"
)

const defaultAnthropicModel = "claude-haiku-4-5-20251001"

const classifySystem = `You score news text against topic labels. ` +
	`Reply with a single JSON object mapping every given label to a probability between 0 and 1 ` +
	`that the text is about that topic. No prose.`

// AnthropicClassifier scores labels with a Messages API call.
type AnthropicClassifier struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a classifier over an Anthropic client. An empty model
// selects a small default.
func NewAnthropic(client anthropic.Client, model string) *AnthropicClassifier {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClassifier{client: client, model: model}
}

// Classify implements Classifier.
func (a *AnthropicClassifier) Classify(ctx context.Context, text string, labels []string) (map[string]float64, error) {
	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   256,
		System:      classifySystem,
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Labels: %s\n\nText:\n%s", strings.Join(labels, ", "), text),
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: anthropic message")
	}
	return parseScores(resp.Text(), labels)
}

// parseScores reads the first JSON object in raw and keeps only the
// requested labels; labels missing from the reply score zero.
func parseScores(raw string, labels []string) (map[string]float64, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, resilience.NewPermanentError(eris.Errorf("classify: no json object in reply %q", raw), 0)
	}

	var parsed map[string]float64
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "classify: unmarshal scores"), 0)
	}

	out := make(map[string]float64, len(labels))
	for _, l := range labels {
		out[l] = clamp01(parsed[l])
	}
	return out, nil
}

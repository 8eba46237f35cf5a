package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-qualifier/internal/resilience"
)

const (
	defaultHFBaseURL = "https://api-inference.huggingface.co"
	defaultHFModel   = "facebook/bart-large-mnli"
)

// HFOption configures the Hugging Face classifier.
type HFOption func(*hfClient)

// WithBaseURL overrides the inference API base URL.
func WithBaseURL(u string) HFOption {
	return func(c *hfClient) { c.baseURL = u }
}

// WithModel overrides the zero-shot model.
func WithModel(m string) HFOption {
	return func(c *hfClient) { c.model = m }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) HFOption {
	return func(c *hfClient) { c.http = hc }
}

// WithRateLimiter throttles inference requests.
func WithRateLimiter(l *rate.Limiter) HFOption {
	return func(c *hfClient) { c.limiter = l }
}

type hfClient struct {
	token   string
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

type hfResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// NewHF creates a classifier backed by a Hugging Face zero-shot model.
func NewHF(token string, opts ...HFOption) Classifier {
	c := &hfClient{
		token:   token,
		baseURL: defaultHFBaseURL,
		model:   defaultHFModel,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *hfClient) Classify(ctx context.Context, text string, labels []string) (map[string]float64, error) {
	if c.token == "" {
		return nil, &resilience.AuthError{Err: eris.New("classify: hf token not configured")}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "classify: rate limit wait")
		}
	}

	payload, err := json.Marshal(hfRequest{
		Inputs:     text,
		Parameters: hfParameters{CandidateLabels: labels, MultiLabel: true},
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+c.model, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "classify: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "classify: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "classify: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromHTTPStatus("classify", resp.StatusCode, string(body))
	}

	var hr hfResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return nil, eris.Wrap(err, "classify: unmarshal response")
	}
	if len(hr.Labels) != len(hr.Scores) {
		return nil, resilience.NewPermanentError(eris.Errorf("classify: %d labels but %d scores", len(hr.Labels), len(hr.Scores)), resp.StatusCode)
	}

	out := make(map[string]float64, len(hr.Labels))
	for i, l := range hr.Labels {
		out[l] = clamp01(hr.Scores[i])
	}
	return out, nil
}

package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-qualifier/internal/resilience"
	"github.com/sells-group/lead-qualifier/pkg/anthropic"
)

func TestHF_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/test/model", r.URL.Path)
		assert.Equal(t, "Bearer hf-token", r.Header.Get("Authorization"))

		var req hfRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"fraud", "lawsuit"}, req.Parameters.CandidateLabels)
		assert.True(t, req.Parameters.MultiLabel)

		_, _ = w.Write([]byte(`{"sequence": "x", "labels": ["fraud", "lawsuit"], "scores": [0.91, 0.12]}`))
	}))
	defer srv.Close()

	c := NewHF("hf-token", WithBaseURL(srv.URL), WithModel("test/model"))
	scores, err := c.Classify(context.Background(), "Executives charged with fraud", []string{"fraud", "lawsuit"})
	require.NoError(t, err)
	assert.InDelta(t, 0.91, scores["fraud"], 1e-9)
	assert.InDelta(t, 0.12, scores["lawsuit"], 1e-9)
}

func TestHF_LoadingModelIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "Model is currently loading"}`))
	}))
	defer srv.Close()

	_, err := NewHF("t", WithBaseURL(srv.URL)).Classify(context.Background(), "x", []string{"fraud"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestHF_RateLimited(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewHF("t", WithBaseURL(srv.URL), WithRateLimiter(rate.NewLimiter(1, 1)))
	_, err := c.Classify(ctx, "x", []string{"fraud"})
	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestHF_MissingToken(t *testing.T) {
	_, err := NewHF("").Classify(context.Background(), "x", []string{"fraud"})
	assert.Equal(t, resilience.KindAuth, resilience.Kind(err))
}

type fakeMessages struct {
	reply string
	err   error
	got   anthropic.MessageRequest
}

func (f *fakeMessages) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: f.reply}}}, nil
}

func TestAnthropic_Classify(t *testing.T) {
	fake := &fakeMessages{reply: "Here you go:\n{\"fraud\": 0.8, \"lawsuit\": 1.4, \"other\": 0.5}"}
	c := NewAnthropic(fake, "")

	scores, err := c.Classify(context.Background(), "Company sued over accounting fraud", []string{"fraud", "lawsuit", "bankruptcy"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"fraud": 0.8, "lawsuit": 1, "bankruptcy": 0}, scores)
	assert.Equal(t, defaultAnthropicModel, fake.got.Model)
	require.Len(t, fake.got.Messages, 1)
	assert.Contains(t, fake.got.Messages[0].Content, "fraud, lawsuit, bankruptcy")
}

func TestAnthropic_BadReply(t *testing.T) {
	c := NewAnthropic(&fakeMessages{reply: "I cannot help with that."}, "m")
	_, err := c.Classify(context.Background(), "x", []string{"fraud"})
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.Kind(err))
}

func TestAnthropic_Error(t *testing.T) {
	c := NewAnthropic(&fakeMessages{err: errors.New("boom")}, "m")
	_, err := c.Classify(context.Background(), "x", []string{"fraud"})
	assert.Error(t, err)
}

func TestMaxScore(t *testing.T) {
	label, score := MaxScore(map[string]float64{"fraud": 0.2, "lawsuit": 0.7, "bankruptcy": 0.7})
	assert.Equal(t, "bankruptcy", label)
	assert.InDelta(t, 0.7, score, 1e-9)

	label, score = MaxScore(nil)
	assert.Empty(t, label)
	assert.Zero(t, score)
}

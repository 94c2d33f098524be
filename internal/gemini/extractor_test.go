package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/internal/database"
)

type scriptedModels struct {
	responses []*genai.GenerateContentResponse
	errs      []error
	calls     int
	lastCfg   *genai.GenerateContentConfig
	lastModel string
}

func (s *scriptedModels) GenerateContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := s.calls
	s.calls++
	s.lastCfg = cfg
	s.lastModel = model
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.responses[i], nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func testConfig() config.GeminiConfig {
	return config.GeminiConfig{Model: "gemini-test", Temperature: 0.2, MaxRetries: 2}
}

func testMessage(text string) *database.Message {
	return &database.Message{
		MessageID:    "m1",
		TextContent:  text,
		SenderName:   "Alice",
		TimeReceived: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	models := &scriptedModels{responses: []*genai.GenerateContentResponse{textResponse(`[
		{"task_name": "Buy milk", "task_context": "need milk", "task_or_event": "task", "task_type": "errand", "task_due_time": "2024-05-02T18:00:00Z"},
		{"task_name": "Dentist", "task_or_event": "event", "task_type": "", "event_start_time": "2024-05-03T10:00:00+02:00"}
	]`)}}
	e := newExtractor(models, testConfig(), nil)

	drafts, err := e.Extract(context.Background(), testMessage("need milk, and dentist on friday"))
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	assert.Equal(t, "gemini-test", models.lastModel)
	assert.Equal(t, "application/json", models.lastCfg.ResponseMIMEType)
	require.NotNil(t, models.lastCfg.SystemInstruction)

	assert.Equal(t, "Buy milk", drafts[0].Name)
	assert.Equal(t, database.TaskKindTask, drafts[0].Kind)
	require.NotNil(t, drafts[0].Type)
	assert.Equal(t, database.TaskTypeErrand, *drafts[0].Type)
	require.NotNil(t, drafts[0].DueTime)
	assert.True(t, drafts[0].DueTime.Equal(time.Date(2024, 5, 2, 18, 0, 0, 0, time.UTC)))

	assert.Equal(t, database.TaskKindEvent, drafts[1].Kind)
	assert.Nil(t, drafts[1].Type)
	assert.Nil(t, drafts[1].Context)
	require.NotNil(t, drafts[1].EventStart)
	assert.True(t, drafts[1].EventStart.Equal(time.Date(2024, 5, 3, 8, 0, 0, 0, time.UTC)))
}

func TestExtractSkipsEmptyText(t *testing.T) {
	t.Parallel()
	models := &scriptedModels{}
	e := newExtractor(models, testConfig(), nil)

	drafts, err := e.Extract(context.Background(), testMessage("   "))
	require.NoError(t, err)
	assert.Empty(t, drafts)
	assert.Zero(t, models.calls)
}

func TestExtractRetries(t *testing.T) {
	t.Parallel()

	t.Run("retriable errors are retried", func(t *testing.T) {
		t.Parallel()
		models := &scriptedModels{
			errs:      []error{genai.APIError{Code: 503}, genai.APIError{Code: 500}, nil},
			responses: []*genai.GenerateContentResponse{nil, nil, textResponse(`[]`)},
		}
		e := newExtractor(models, testConfig(), nil)

		drafts, err := e.Extract(context.Background(), testMessage("hi"))
		require.NoError(t, err)
		assert.Empty(t, drafts)
		assert.Equal(t, 3, models.calls)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		t.Parallel()
		unavailable := genai.APIError{Code: 503}
		models := &scriptedModels{errs: []error{unavailable, unavailable, unavailable, unavailable}}
		e := newExtractor(models, testConfig(), nil)

		_, err := e.Extract(context.Background(), testMessage("hi"))
		require.Error(t, err)
		assert.Equal(t, 3, models.calls)
	})

	t.Run("other errors fail at once", func(t *testing.T) {
		t.Parallel()
		models := &scriptedModels{errs: []error{errors.New("permission denied")}}
		e := newExtractor(models, testConfig(), nil)

		_, err := e.Extract(context.Background(), testMessage("hi"))
		require.Error(t, err)
		assert.Equal(t, 1, models.calls)
	})
}

func TestExtractRejectsBadResponses(t *testing.T) {
	t.Parallel()

	blocked := &genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
		BlockReason:        genai.BlockedReasonSafety,
		BlockReasonMessage: "unsafe",
	}}

	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"blocked", blocked},
		{"no candidates", &genai.GenerateContentResponse{}},
		{"not json", textResponse("sure, here are your tasks")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newExtractor(&scriptedModels{responses: []*genai.GenerateContentResponse{tt.resp}}, testConfig(), nil)
			_, err := e.Extract(context.Background(), testMessage("hi"))
			assert.Error(t, err)
		})
	}
}

func TestParseDrafts(t *testing.T) {
	t.Parallel()

	drafts, err := parseDrafts("```json\n[{\"task_name\": \"  \"}, {\"task_name\": \"Call mom\", \"task_or_event\": \"meeting\", \"task_type\": \"urgent\", \"task_due_time\": \"tomorrow\"}]\n```")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Call mom", drafts[0].Name)
	assert.Equal(t, database.TaskKindTask, drafts[0].Kind)
	assert.Nil(t, drafts[0].Type)
	assert.Nil(t, drafts[0].DueTime)

	drafts, err = parseDrafts("[]")
	require.NoError(t, err)
	assert.Empty(t, drafts)

	_, err = parseDrafts(`{"task_name": "not an array"}`)
	assert.Error(t, err)
}

func TestExtractCircuitBreaker(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Hour
	fatal := genai.APIError{Code: 400, Message: "bad request"}
	models := &scriptedModels{errs: []error{fatal, fatal, fatal}}
	e := newExtractor(models, cfg, nil)

	for range 2 {
		_, err := e.Extract(context.Background(), testMessage("need milk"))
		require.Error(t, err)
	}
	assert.Equal(t, 2, models.calls)

	_, err := e.Extract(context.Background(), testMessage("need milk"))
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, models.calls, "open circuit skips the API")
}

func TestExtractCancelledCallDoesNotTrip(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BreakerFailures = 1
	models := &scriptedModels{
		errs:      []error{context.Canceled},
		responses: []*genai.GenerateContentResponse{nil, textResponse(`[]`)},
	}
	e := newExtractor(models, cfg, nil)

	_, err := e.Extract(context.Background(), testMessage("need milk"))
	require.ErrorIs(t, err, context.Canceled)

	drafts, err := e.Extract(context.Background(), testMessage("need milk"))
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

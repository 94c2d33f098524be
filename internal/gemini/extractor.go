// Package gemini implements a task extractor backed by Google's Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	"github.com/edgard/intake/internal/agent"
	"github.com/edgard/intake/internal/config"
	"github.com/edgard/intake/internal/database"
	"github.com/edgard/intake/internal/logger"
)

// contentGenerator is the subset of *genai.Models used by the extractor.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Extractor asks Gemini for the tasks and events contained in a message. It
// implements agent.Extractor.
type Extractor struct {
	models        contentGenerator
	breaker       *gobreaker.CircuitBreaker
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string
	maxRetries    int
	retryDelay    time.Duration
	now           func() time.Time
}

var _ agent.Extractor = (*Extractor)(nil)

// NewExtractor creates a Gemini client and wraps it as an extractor.
func NewExtractor(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	e := newExtractor(gi.Models, cfg, log)
	e.log.Info("Gemini extractor initialized successfully", "model", cfg.Model)
	return e, nil
}

func newExtractor(models contentGenerator, cfg config.GeminiConfig, log *slog.Logger) *Extractor {
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("component", "gemini_extractor")
	temperature := cfg.Temperature
	return &Extractor{
		models:  models,
		breaker: newBreaker(cfg, log),
		log:     log,
		contentConfig: &genai.GenerateContentConfig{
			Temperature:      &temperature,
			ResponseMIMEType: "application/json",
			ResponseSchema:   draftListSchema,
		},
		modelName:  cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
	}
}

var draftSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"task_name":        {Type: genai.TypeString, Description: "Short imperative summary of the task or event."},
		"task_context":     {Type: genai.TypeString, Description: "The relevant part of the message, verbatim."},
		"task_or_event":    {Type: genai.TypeString, Enum: []string{"task", "event"}},
		"task_type":        {Type: genai.TypeString, Enum: []string{"fun", "text_response", "chore", "errand", ""}},
		"task_due_time":    {Type: genai.TypeString, Description: "RFC 3339 due time, empty if unknown."},
		"event_start_time": {Type: genai.TypeString, Description: "RFC 3339 start time, empty if unknown."},
		"event_end_time":   {Type: genai.TypeString, Description: "RFC 3339 end time, empty if unknown."},
	},
	Required: []string{"task_name", "task_or_event"},
}

var draftListSchema = &genai.Schema{
	Type:        genai.TypeArray,
	Description: "The tasks and events found in the message. Empty when there are none.",
	Items:       draftSchema,
}

func formatMessageForAI(m *database.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.TimeReceived.UTC().Format("2006-01-02 15:04:05"), m.SenderName, m.TextContent)
}

// Extract implements agent.Extractor.
func (e *Extractor) Extract(ctx context.Context, msg *database.Message) ([]agent.TaskDraft, error) {
	if strings.TrimSpace(msg.TextContent) == "" {
		return nil, nil
	}
	e.log.DebugContext(ctx, "Extracting tasks", "message_id", msg.MessageID)

	cfg := *e.contentConfig
	cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{
		{Text: fmt.Sprintf(TaskExtractorSystemInstruction, e.now().UTC().Format(time.RFC3339))},
	}}
	contents := []*genai.Content{genai.NewContentFromText(formatMessageForAI(msg), genai.RoleUser)}

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.generateContentWithRetries(ctx, contents, &cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract tasks: %w", err)
	}
	resp := out.(*genai.GenerateContentResponse)

	jsonText, err := e.extractTextFromResponse(ctx, resp)
	if err != nil {
		return nil, err
	}

	drafts, err := parseDrafts(jsonText)
	if err != nil {
		e.log.ErrorContext(ctx, "Failed to parse drafts from Gemini response", "error", err, "response_text", jsonText)
		return nil, err
	}

	e.log.DebugContext(ctx, "Extracted tasks", "message_id", msg.MessageID, "count", len(drafts))
	return drafts, nil
}

func retriableCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Code == 500 || apiErr.Code == 503
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, apiErrPtr.Code == 500 || apiErrPtr.Code == 503
	}
	return 0, false
}

func (e *Extractor) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := e.models.GenerateContent(ctx, e.modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		code, retriable := retriableCode(err)
		if !retriable {
			e.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
			return nil, fmt.Errorf("gemini API call failed: %w", err)
		}
		if attempt >= e.maxRetries {
			e.log.ErrorContext(ctx, "Gemini API call failed after max retries", "error", err, "code", code)
			return nil, fmt.Errorf("gemini API call failed after %d retries (code %d): %w", e.maxRetries, code, err)
		}

		e.log.InfoContext(ctx, "Retrying Gemini API call", "attempt", attempt+1, "delay", e.retryDelay, "code", code)
		timer := time.NewTimer(e.retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (e *Extractor) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		e.log.ErrorContext(ctx, "Gemini request blocked", "reason", reasonMsg)
		return "", fmt.Errorf("extraction blocked by safety filter: %s", reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		e.log.WarnContext(ctx, "Gemini response missing candidates or content", "finish_reason", finishReason)
		return "", fmt.Errorf("extraction returned no content, finish reason: %s", finishReason)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("extraction returned empty text")
	}
	return text, nil
}

type draftJSON struct {
	TaskName       string `json:"task_name"`
	TaskContext    string `json:"task_context"`
	TaskOrEvent    string `json:"task_or_event"`
	TaskType       string `json:"task_type"`
	TaskDueTime    string `json:"task_due_time"`
	EventStartTime string `json:"event_start_time"`
	EventEndTime   string `json:"event_end_time"`
}

// parseDrafts decodes the JSON array returned by the model. Entries without
// a name are skipped; unknown kinds and types and unparseable times are
// dropped to their zero value rather than failing the message.
func parseDrafts(text string) ([]agent.TaskDraft, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var raw []draftJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return nil, fmt.Errorf("invalid drafts JSON array received: %w", err)
	}

	drafts := make([]agent.TaskDraft, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.TaskName)
		if name == "" {
			continue
		}

		d := agent.TaskDraft{
			Name:       name,
			Kind:       database.TaskKindTask,
			DueTime:    parseTime(r.TaskDueTime),
			EventStart: parseTime(r.EventStartTime),
			EventEnd:   parseTime(r.EventEndTime),
		}
		if c := strings.TrimSpace(r.TaskContext); c != "" {
			d.Context = &c
		}
		if database.TaskKind(r.TaskOrEvent) == database.TaskKindEvent {
			d.Kind = database.TaskKindEvent
		}
		switch t := database.TaskType(r.TaskType); t {
		case database.TaskTypeFun, database.TaskTypeTextResponse, database.TaskTypeChore, database.TaskTypeErrand:
			d.Type = &t
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

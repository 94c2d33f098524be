package agent

import (
	"context"
	"strings"
	"time"

	"github.com/edgard/intake/internal/database"
)

// TaskDraft is a task proposed by an Extractor for one message.
type TaskDraft struct {
	Name       string
	Context    *string
	Kind       database.TaskKind
	Type       *database.TaskType
	DueTime    *time.Time
	EventStart *time.Time
	EventEnd   *time.Time
}

// Extractor turns a message into zero or more task drafts.
type Extractor interface {
	Extract(ctx context.Context, msg *database.Message) ([]TaskDraft, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, msg *database.Message) ([]TaskDraft, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, msg *database.Message) ([]TaskDraft, error) {
	return f(ctx, msg)
}

const draftNameLimit = 50

var (
	taskKeywords  = []string{"todo", "task", "remind", "need to", "should"}
	eventKeywords = []string{"meeting", "appointment", "event"}
)

// KeywordExtractor is the built-in rule based extractor: a message that
// mentions a task keyword yields a chore, one that mentions an event
// keyword yields an event. A message can yield both.
type KeywordExtractor struct{}

// Extract implements Extractor.
func (KeywordExtractor) Extract(_ context.Context, msg *database.Message) ([]TaskDraft, error) {
	text := strings.ToLower(msg.TextContent)
	var drafts []TaskDraft

	if containsAny(text, taskKeywords) {
		chore := database.TaskTypeChore
		drafts = append(drafts, TaskDraft{
			Name:    "Task from message: " + summarize(msg.TextContent, draftNameLimit),
			Context: stringPtr(msg.TextContent),
			Kind:    database.TaskKindTask,
			Type:    &chore,
		})
	}

	if containsAny(text, eventKeywords) {
		drafts = append(drafts, TaskDraft{
			Name:    "Event: " + summarize(msg.TextContent, draftNameLimit),
			Context: stringPtr(msg.TextContent),
			Kind:    database.TaskKindEvent,
		})
	}

	return drafts, nil
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// summarize cuts s to limit runes, marking the cut with an ellipsis.
func summarize(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func stringPtr(s string) *string { return &s }

package app

import (
	"context"
	"log/slog"

	"github.com/edgard/intake/internal/database"
)

type submitter interface {
	Submit(messageID string) bool
}

type armer interface {
	Arm()
}

// IntakeService is the message entry point shared by the HTTP handlers. It
// stores a message, hands it to the pre-processor and re-arms the agent
// coalescer.
type IntakeService struct {
	store        database.Store
	preprocessor submitter
	coalescer    armer
	logger       *slog.Logger
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(store database.Store, preprocessor submitter, coalescer armer, logger *slog.Logger) *IntakeService {
	return &IntakeService{
		store:        store,
		preprocessor: preprocessor,
		coalescer:    coalescer,
		logger:       logger.With("component", "intake"),
	}
}

// CreateMessage persists the message and schedules it. Scheduling never
// fails the request: a message the pre-processor cannot take now is picked
// up by the sweep task.
func (s *IntakeService) CreateMessage(ctx context.Context, in *database.NewMessage) (*database.Message, error) {
	msg, err := s.store.CreateMessage(ctx, in)
	if err != nil {
		return nil, err
	}

	if !s.preprocessor.Submit(msg.MessageID) {
		s.logger.DebugContext(ctx, "Message not queued for preprocessing", "message_id", msg.MessageID)
	}
	s.coalescer.Arm()

	s.logger.InfoContext(ctx, "Message accepted", "message_id", msg.MessageID, "chat_id", msg.ChatID)
	return msg, nil
}

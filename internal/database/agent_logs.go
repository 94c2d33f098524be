package database

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/edgard/intake/internal/errors"
)

// AppendAgentLog inserts one agent log row and fills in its id.
func (s *sqlxStore) AppendAgentLog(ctx context.Context, entry *AgentLog) error {
	if entry == nil || strings.TrimSpace(entry.SessionID) == "" {
		return apperrors.NewValidationError("agent log session_id is required", nil)
	}
	if entry.Level == "" {
		entry.Level = "info"
	}
	entry.CreatedAt = s.now()

	query := s.db.Rebind(`
        INSERT INTO agent_logs (session_id, log_type, level, message, source_message_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        RETURNING id;
    `)
	err := s.db.GetContext(ctx, &entry.ID, query,
		entry.SessionID, string(entry.LogType), entry.Level, entry.Message,
		nullString(entry.SourceMessageID), entry.CreatedAt)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to append agent log", "session_id", entry.SessionID, "error", err)
		return classifyError("failed to append agent log", err)
	}
	return nil
}

// ListAgentLogs returns a run's log entries in insertion order.
func (s *sqlxStore) ListAgentLogs(ctx context.Context, sessionID string) ([]*AgentLog, error) {
	entries := []*AgentLog{}
	query := s.db.Rebind(`
        SELECT id, session_id, log_type, level, message, source_message_id, created_at
        FROM agent_logs
        WHERE session_id = ?
        ORDER BY id ASC;
    `)
	if err := s.db.SelectContext(ctx, &entries, query, sessionID); err != nil {
		return nil, classifyError(fmt.Sprintf("failed to list agent logs for %s", sessionID), err)
	}
	return entries, nil
}

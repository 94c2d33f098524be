package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/edgard/intake/internal/errors"
)

const messageColumns = `message_id, text_content, text_character_count, status, user_id, sender_name,
        chat_id, chat_members_struct, is_spam, replied_to_fk, time_received, status_changed_at`

const insertMessageQuery = `
        INSERT INTO messages (message_id, text_content, text_character_count, status, user_id, sender_name,
                              chat_id, chat_members_struct, is_spam, replied_to_fk, time_received, status_changed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `

// CreateMessage inserts a message after normalizing its participants.
func (s *sqlxStore) CreateMessage(ctx context.Context, in *NewMessage) (*Message, error) {
	sender, err := validateNewMessage(in)
	if err != nil {
		return nil, err
	}

	members, err := in.Members.Value()
	if err != nil {
		return nil, apperrors.NewValidationError("invalid chat_members_struct", err)
	}

	now := s.now()
	msg := &Message{
		MessageID:          in.MessageID,
		TextContent:        in.TextContent,
		TextCharacterCount: utf8.RuneCountInString(in.TextContent),
		Status:             StatusUnprocessed,
		UserID:             sender.UserID,
		SenderName:         sender.Name,
		ChatID:             in.ChatID,
		ChatMembers:        in.Members,
		IsSpam:             in.IsSpam,
		RepliedToID:        in.RepliedToID,
		TimeReceived:       now,
		StatusChangedAt:    now,
	}

	err = s.withTx(ctx, "create_message", func(tx *sqlx.Tx) error {
		if err := normalizeParticipants(ctx, tx, in, now); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, tx.Rebind(insertMessageQuery),
			msg.MessageID, msg.TextContent, msg.TextCharacterCount, string(msg.Status),
			msg.UserID, msg.SenderName, msg.ChatID, members, msg.IsSpam,
			nullString(msg.RepliedToID), msg.TimeReceived, msg.StatusChangedAt)
		if err != nil {
			return classifyError(fmt.Sprintf("failed to insert message %s", msg.MessageID), err)
		}
		return nil
	})
	if err != nil {
		switch apperrors.Code(err) {
		case apperrors.CodeDuplicateKey, apperrors.CodeConstraint, apperrors.CodeValidation:
			s.logger.WarnContext(ctx, "Rejected message", "message_id", in.MessageID, "chat_id", in.ChatID, "error", err)
		default:
			s.logger.ErrorContext(ctx, "Error saving message", "message_id", in.MessageID, "chat_id", in.ChatID, "error", err)
		}
		return nil, err
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"message_id", msg.MessageID, "chat_id", msg.ChatID, "user_id", msg.UserID)
	return msg, nil
}

// GetMessage retrieves a message by id.
func (s *sqlxStore) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	var msg Message
	query := s.db.Rebind(`SELECT ` + messageColumns + ` FROM messages WHERE message_id = ?;`)
	if err := s.db.GetContext(ctx, &msg, query, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("message %s not found", messageID))
		}
		return nil, classifyError(fmt.Sprintf("failed to get message %s", messageID), err)
	}
	return &msg, nil
}

// ListMessagesByStatus retrieves messages in the given status ordered by
// receipt time.
func (s *sqlxStore) ListMessagesByStatus(ctx context.Context, status MessageStatus) ([]*Message, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown message status %q", status), nil)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	messages := []*Message{}
	query := s.db.Rebind(`
        SELECT ` + messageColumns + `
        FROM messages
        WHERE status = ?
        ORDER BY time_received ASC, message_id ASC;
    `)
	if err := s.db.SelectContext(ctx, &messages, query, string(status)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.WarnContext(ctx, "Timeout listing messages", "status", status)
			return nil, fmt.Errorf("timed out listing %s messages: %w", status, err)
		}
		s.logger.ErrorContext(ctx, "Error listing messages", "status", status, "error", err)
		return nil, classifyError(fmt.Sprintf("failed to list %s messages", status), err)
	}

	return messages, nil
}

// CountMessagesByStatus counts messages per status. Statuses without
// messages are reported as zero.
func (s *sqlxStore) CountMessagesByStatus(ctx context.Context) (map[MessageStatus]int, error) {
	var rows []struct {
		Status MessageStatus `db:"status"`
		Count  int           `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM messages GROUP BY status;`); err != nil {
		return nil, classifyError("failed to count messages", err)
	}

	counts := make(map[MessageStatus]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// BulkSetStatus applies one guarded status transition to a set of messages.
func (s *sqlxStore) BulkSetStatus(ctx context.Context, ids []string, from, to MessageStatus) ([]string, error) {
	if !from.CanTransitionTo(to) {
		return nil, apperrors.NewInvalidTransitionError(fmt.Sprintf("illegal status transition %s -> %s", from, to))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var moved []string
	err := s.withTx(ctx, "bulk_set_status", func(tx *sqlx.Tx) error {
		var err error
		moved, err = setStatusTx(ctx, tx, ids, from, to, s.now())
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating message status",
			"from", from, "to", to, "count", len(ids), "error", err)
		return nil, err
	}

	if len(moved) != len(ids) {
		s.logger.DebugContext(ctx, "Some messages were not in the expected status",
			"from", from, "to", to, "requested", len(ids), "moved", len(moved))
	}
	return moved, nil
}

// RequeueStale moves abandoned AGENT_PROCESSING messages back to
// READY_FOR_AGENT.
func (s *sqlxStore) RequeueStale(ctx context.Context, olderThan time.Time) ([]string, error) {
	var moved []string
	err := s.withTx(ctx, "requeue_stale", func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
            UPDATE messages
            SET status = ?, status_changed_at = ?
            WHERE status = ? AND status_changed_at < ?
            RETURNING message_id;
        `)
		if err := tx.SelectContext(ctx, &moved, query,
			string(StatusReadyForAgent), s.now(), string(StatusAgentProcessing), olderThan.UTC()); err != nil {
			return classifyError("failed to requeue stale messages", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(moved)
	if len(moved) > 0 {
		s.logger.WarnContext(ctx, "Requeued stale agent messages", "count", len(moved), "older_than", olderThan)
	}
	return moved, nil
}

// CompleteAgentRun finishes a batch run atomically. Tasks whose source
// message is no longer in AGENT_PROCESSING are dropped with that message.
func (s *sqlxStore) CompleteAgentRun(ctx context.Context, ids []string, tasks []*Task) ([]string, error) {
	var moved []string
	err := s.withTx(ctx, "complete_agent_run", func(tx *sqlx.Tx) error {
		now := s.now()

		var err error
		moved, err = setStatusTx(ctx, tx, ids, StatusAgentProcessing, StatusProcessed, now)
		if err != nil {
			return err
		}

		keep := make(map[string]bool, len(moved))
		for _, id := range moved {
			keep[id] = true
		}
		for _, task := range tasks {
			if task.SourceMessageID != nil && !keep[*task.SourceMessageID] {
				continue
			}
			if err := insertTaskTx(ctx, tx, task, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Error completing agent run", "count", len(ids), "error", err)
		return nil, err
	}

	if len(moved) != len(ids) {
		s.logger.WarnContext(ctx, "Agent cohort changed while processing",
			"requested", len(ids), "completed", len(moved))
	}
	return moved, nil
}

// setStatusTx performs the guarded update and reports the ids it moved.
func setStatusTx(ctx context.Context, tx *sqlx.Tx, ids []string, from, to MessageStatus, now time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
        UPDATE messages
        SET status = ?, status_changed_at = ?
        WHERE status = ? AND message_id IN (?)
        RETURNING message_id;
    `, string(to), now, string(from), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build status update query: %w", err)
	}

	var moved []string
	if err := tx.SelectContext(ctx, &moved, tx.Rebind(query), args...); err != nil {
		return nil, classifyError(fmt.Sprintf("failed to move messages %s -> %s", from, to), err)
	}
	sort.Strings(moved)
	return moved, nil
}

// GetUser retrieves a user by id.
func (s *sqlxStore) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	query := s.db.Rebind(`SELECT user_id, name, created_at, updated_at FROM users WHERE user_id = ?;`)
	if err := s.db.GetContext(ctx, &u, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("user %s not found", userID))
		}
		return nil, classifyError(fmt.Sprintf("failed to get user %s", userID), err)
	}
	return &u, nil
}

// GetChat retrieves a chat by id.
func (s *sqlxStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var c Chat
	query := s.db.Rebind(`
        SELECT chat_id, chat_display_name, chat_type, created_at, updated_at
        FROM chats WHERE chat_id = ?;
    `)
	if err := s.db.GetContext(ctx, &c, query, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("chat %s not found", chatID))
		}
		return nil, classifyError(fmt.Sprintf("failed to get chat %s", chatID), err)
	}
	return &c, nil
}

// ListChatMembers returns the user ids associated with a chat, sorted.
func (s *sqlxStore) ListChatMembers(ctx context.Context, chatID string) ([]string, error) {
	members := []string{}
	query := s.db.Rebind(`SELECT user_id FROM chat_users WHERE chat_id = ? ORDER BY user_id;`)
	if err := s.db.SelectContext(ctx, &members, query, chatID); err != nil {
		return nil, classifyError(fmt.Sprintf("failed to list members of chat %s", chatID), err)
	}
	return members, nil
}

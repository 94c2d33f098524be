package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/edgard/intake/internal/errors"
)

// The upserts only write when something changed: a user row is touched when
// the name differs, a chat row when a non-null display name differs. The chat
// type is never updated after creation.
const (
	upsertUserQuery = `
        INSERT INTO users (user_id, name, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE
        SET name = excluded.name, updated_at = excluded.updated_at
        WHERE users.name <> excluded.name;
    `

	upsertChatQuery = `
        INSERT INTO chats (chat_id, chat_display_name, chat_type, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (chat_id) DO UPDATE
        SET chat_display_name = excluded.chat_display_name, updated_at = excluded.updated_at
        WHERE excluded.chat_display_name IS NOT NULL
          AND (chats.chat_display_name IS NULL OR chats.chat_display_name <> excluded.chat_display_name);
    `

	insertMembershipQuery = `
        INSERT INTO chat_users (chat_id, user_id)
        VALUES (?, ?)
        ON CONFLICT (chat_id, user_id) DO NOTHING;
    `
)

// validateNewMessage checks the shape of an incoming message and returns its
// sender.
func validateNewMessage(in *NewMessage) (ChatMember, error) {
	if in == nil {
		return ChatMember{}, apperrors.NewValidationError("message is required", nil)
	}
	if strings.TrimSpace(in.MessageID) == "" {
		return ChatMember{}, apperrors.NewValidationError("message_id is required", nil)
	}
	if strings.TrimSpace(in.ChatID) == "" {
		return ChatMember{}, apperrors.NewValidationError("chat_id is required", nil)
	}
	if len(in.Members) == 0 {
		return ChatMember{}, apperrors.NewValidationError("chat_members_struct must not be empty", nil)
	}

	senders := 0
	for i, m := range in.Members {
		if strings.TrimSpace(m.UserID) == "" {
			return ChatMember{}, apperrors.NewValidationError(fmt.Sprintf("chat member %d has no user_id", i), nil)
		}
		if strings.TrimSpace(m.Name) == "" {
			return ChatMember{}, apperrors.NewValidationError(fmt.Sprintf("chat member %s has no name", m.UserID), nil)
		}
		if m.IsSender {
			senders++
		}
	}
	if senders != 1 {
		return ChatMember{}, apperrors.NewValidationError(
			fmt.Sprintf("exactly one chat member must be the sender, got %d", senders), nil)
	}

	sender, _ := in.Members.Sender()
	return sender, nil
}

// uniqueMembers collapses repeated user ids, keeping the first position and
// the last name seen.
func uniqueMembers(members Members) Members {
	index := make(map[string]int, len(members))
	out := make(Members, 0, len(members))
	for _, m := range members {
		if i, ok := index[m.UserID]; ok {
			out[i].Name = m.Name
			out[i].IsSender = out[i].IsSender || m.IsSender
			continue
		}
		index[m.UserID] = len(out)
		out = append(out, m)
	}
	return out
}

// normalizeParticipants upserts the roster's users, finds or creates the
// chat, and records any missing memberships. It must run in the same
// transaction as the message insert.
func normalizeParticipants(ctx context.Context, tx *sqlx.Tx, in *NewMessage, now time.Time) error {
	members := uniqueMembers(in.Members)

	for _, m := range members {
		if _, err := tx.ExecContext(ctx, tx.Rebind(upsertUserQuery), m.UserID, m.Name, now, now); err != nil {
			return classifyError(fmt.Sprintf("failed to upsert user %s", m.UserID), err)
		}
	}

	chatType := ChatTypeForMembers(len(members))
	if _, err := tx.ExecContext(ctx, tx.Rebind(upsertChatQuery),
		in.ChatID, nullString(in.ChatDisplayName), string(chatType), now, now); err != nil {
		return classifyError(fmt.Sprintf("failed to upsert chat %s", in.ChatID), err)
	}

	for _, m := range members {
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertMembershipQuery), in.ChatID, m.UserID); err != nil {
			return classifyError(fmt.Sprintf("failed to add user %s to chat %s", m.UserID, in.ChatID), err)
		}
	}

	return nil
}

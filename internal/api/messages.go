package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgard/intake/internal/database"
	apperrors "github.com/edgard/intake/internal/errors"
)

type chatMemberRequest struct {
	UserID   string `json:"user_id"   binding:"required"`
	Name     string `json:"name"      binding:"required"`
	IsSender bool   `json:"is_sender"`
}

type createMessageRequest struct {
	MessageID       string              `json:"message_id"          binding:"required"`
	TextContent     *string             `json:"text_content"        binding:"required"`
	ChatID          string              `json:"chat_id"             binding:"required"`
	ChatDisplayName *string             `json:"chat_display_name"`
	ChatMembers     []chatMemberRequest `json:"chat_members_struct" binding:"required,min=1,dive"`
	IsSpam          bool                `json:"is_spam"`
	RepliedToID     *string             `json:"replied_to_fk"`
}

func (r createMessageRequest) toNewMessage() *database.NewMessage {
	members := make(database.Members, 0, len(r.ChatMembers))
	for _, m := range r.ChatMembers {
		members = append(members, database.ChatMember{UserID: m.UserID, Name: m.Name, IsSender: m.IsSender})
	}
	return &database.NewMessage{
		MessageID:       r.MessageID,
		TextContent:     *r.TextContent,
		ChatID:          r.ChatID,
		ChatDisplayName: r.ChatDisplayName,
		Members:         members,
		IsSpam:          r.IsSpam,
		RepliedToID:     r.RepliedToID,
	}
}

type messageHandler struct {
	intake Intake
	store  database.Store
	log    *slog.Logger
}

// Create stores an incoming chat message.
func (h *messageHandler) Create(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	msg, err := h.intake.CreateMessage(c.Request.Context(), req.toNewMessage())
	if err != nil {
		if !apperrors.HasCode(err, apperrors.CodeDuplicateKey) && !apperrors.HasCode(err, apperrors.CodeConstraint) &&
			!apperrors.HasCode(err, apperrors.CodeValidation) {
			h.log.ErrorContext(c.Request.Context(), "Failed to create message", "message_id", req.MessageID, "error", err)
		}
		respondError(c, err, "Failed to create message")
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// Get returns one message.
func (h *messageHandler) Get(c *gin.Context) {
	msg, err := h.store.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

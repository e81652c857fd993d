package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/coop-chat-agent/internal/conversation"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ConversationAdmin is the slice of conversation.Engine the admin API uses.
type ConversationAdmin interface {
	History(ctx context.Context, key conversation.Key, limit int) (*conversation.Conversation, []conversation.Message, error)
	SetStatus(ctx context.Context, key conversation.Key, status conversation.Status) (*conversation.Conversation, error)
}

// AdminConversationsHandler lets operators inspect a conversation and change
// its status.
type AdminConversationsHandler struct {
	conversations ConversationAdmin
	logger        *logging.Logger
}

// NewAdminConversationsHandler creates a new admin conversations handler.
func NewAdminConversationsHandler(conversations ConversationAdmin, logger *logging.Logger) *AdminConversationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminConversationsHandler{conversations: conversations, logger: logger}
}

// ConversationDetailResponse represents a conversation and its recent log.
type ConversationDetailResponse struct {
	ID              int64             `json:"id"`
	Channel         string            `json:"channel"`
	Address         string            `json:"address"`
	Status          string            `json:"status"`
	Authenticated   bool              `json:"authenticated"`
	PartnerID       *int64            `json:"partner_id,omitempty"`
	PartnerName     string            `json:"partner_name,omitempty"`
	PendingAction   string            `json:"pending_action,omitempty"`
	AuthFailures    int               `json:"auth_failures"`
	LockedUntil     *string           `json:"locked_until,omitempty"`
	LastInteraction string            `json:"last_interaction"`
	CreatedAt       string            `json:"created_at"`
	Messages        []MessageResponse `json:"messages"`
}

// MessageResponse represents a message in a conversation.
type MessageResponse struct {
	ID        int64             `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Intent    string            `json:"intent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// GetConversation returns a conversation with its last messages.
// GET /admin/conversations/{channel}/{address}?limit=N
func (h *AdminConversationsHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	key, ok := conversationKey(r)
	if !ok {
		jsonError(w, "missing channel or address", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	c, msgs, err := h.conversations.History(r.Context(), key, limit)
	if errors.Is(err, conversation.ErrNotFound) {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load conversation", "channel", key.Channel, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detailResponse(c, msgs))
}

// UpdateStatus sets ACTIVE, CLOSED or BLOCKED.
// PUT /admin/conversations/{channel}/{address}/status
func (h *AdminConversationsHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := conversationKey(r)
	if !ok {
		jsonError(w, "missing channel or address", http.StatusBadRequest)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	status, ok := conversation.ParseStatus(req.Status)
	if !ok || (status != conversation.StatusActive && status != conversation.StatusClosed && status != conversation.StatusBlocked) {
		jsonError(w, "status must be ACTIVE, CLOSED or BLOCKED", http.StatusBadRequest)
		return
	}

	c, err := h.conversations.SetStatus(r.Context(), key, status)
	if errors.Is(err, conversation.ErrNotFound) {
		jsonError(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to update conversation status", "channel", key.Channel, "status", status, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("conversation status changed", "channel", key.Channel, "conversation_id", c.ID, "status", c.Status)
	writeJSON(w, http.StatusOK, detailResponse(c, nil))
}

func conversationKey(r *http.Request) (conversation.Key, bool) {
	key := conversation.Key{
		Channel: strings.ToLower(strings.TrimSpace(chi.URLParam(r, "channel"))),
		Address: strings.TrimSpace(chi.URLParam(r, "address")),
	}
	return key, key.Channel != "" && key.Address != ""
}

func detailResponse(c *conversation.Conversation, msgs []conversation.Message) ConversationDetailResponse {
	resp := ConversationDetailResponse{
		ID:              c.ID,
		Channel:         c.Channel,
		Address:         c.Address,
		Status:          string(c.Status),
		Authenticated:   c.Authenticated,
		AuthFailures:    c.Context.AuthFailures,
		LastInteraction: c.LastInteraction.UTC().Format(time.RFC3339),
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
		Messages:        make([]MessageResponse, 0, len(msgs)),
	}
	if c.Partner != nil {
		id := c.Partner.ID
		resp.PartnerID = &id
		resp.PartnerName = c.Partner.DisplayName()
	}
	if c.Context.Pending != nil {
		resp.PendingAction = c.Context.Pending.Kind()
	}
	if c.Context.LockedUntil != nil {
		until := c.Context.LockedUntil.UTC().Format(time.RFC3339)
		resp.LockedUntil = &until
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Body,
			Intent:    string(m.Intent),
			Metadata:  m.Metadata,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}

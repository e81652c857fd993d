package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// ProviderResolver resolves the outbound provider for a channel.
type ProviderResolver interface {
	Get(channel, name string) (providers.Provider, error)
}

// AdminMessagingHandler sends operator-initiated messages such as
// collection reminders.
type AdminMessagingHandler struct {
	providers ProviderResolver
	logger    *logging.Logger
}

func NewAdminMessagingHandler(resolver ProviderResolver, logger *logging.Logger) *AdminMessagingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminMessagingHandler{providers: resolver, logger: logger}
}

type sendMessageRequest struct {
	Channel     string `json:"channel"`
	Provider    string `json:"provider,omitempty"`
	Recipient   string `json:"recipient"`
	Text        string `json:"text"`
	ButtonLabel string `json:"button_label,omitempty"`
	ButtonURL   string `json:"button_url,omitempty"`
}

type sendMessageResponse struct {
	Channel  string `json:"channel"`
	Provider string `json:"provider"`
	providers.Result
}

// SendMessage delivers one outbound message.
// POST /admin/send
func (h *AdminMessagingHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Channel = strings.ToLower(strings.TrimSpace(req.Channel))
	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.Channel == "" || req.Recipient == "" || strings.TrimSpace(req.Text) == "" {
		jsonError(w, "channel, recipient and text are required", http.StatusBadRequest)
		return
	}
	if (req.ButtonLabel == "") != (req.ButtonURL == "") {
		jsonError(w, "button_label and button_url go together", http.StatusBadRequest)
		return
	}

	provider, err := h.providers.Get(req.Channel, req.Provider)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var res providers.Result
	if req.ButtonURL != "" {
		res = provider.SendTextWithButton(r.Context(), req.Recipient, req.Text, req.ButtonLabel, req.ButtonURL)
	} else {
		res = provider.SendText(r.Context(), req.Recipient, req.Text)
	}

	status := http.StatusAccepted
	if !res.Success {
		status = http.StatusBadGateway
		h.logger.Warn("admin send failed", "channel", req.Channel, "provider", provider.Name(), "error", res.Error)
	} else {
		h.logger.Info("admin send delivered", "channel", req.Channel, "provider", provider.Name(), "message_id", res.MessageID)
	}
	writeJSON(w, status, sendMessageResponse{
		Channel:  req.Channel,
		Provider: provider.Name(),
		Result:   res,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

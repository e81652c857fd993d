// Package telegram receives Telegram Bot API updates by webhook or long
// polling and turns each message into a dispatch job.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wolfman30/coop-chat-agent/internal/dispatch"
	"github.com/wolfman30/coop-chat-agent/internal/events"
	"github.com/wolfman30/coop-chat-agent/internal/format"
	"github.com/wolfman30/coop-chat-agent/internal/intent"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// SecretHeader carries the secret_token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxBodyBytes = 1 << 20

// staticReplies are answered without touching the conversation.
var staticReplies = map[string]string{
	"start": format.Welcome,
	"help":  format.Commands,
	"menu":  format.Menu,
}

// forcedCommands go through the conversation with a fixed intent so the
// authentication gate still applies.
var forcedCommands = map[string]intent.Type{
	"micuenta":  intent.PartnerDetail,
	"prestamos": intent.ListCredits,
	"saldo":     intent.AccountStatement,
}

// Adapter converts updates to jobs and hands them to a dispatcher.
type Adapter struct {
	dispatcher dispatch.Dispatcher
	processed  events.ProcessedStore
	secret     string
	metrics    *metrics.AgentMetrics
	logger     *logging.Logger
}

type Option func(*Adapter)

// WithSecret requires SecretHeader to match on webhook requests.
func WithSecret(secret string) Option {
	return func(a *Adapter) { a.secret = secret }
}

// WithProcessedStore skips update ids that were already handled.
func WithProcessedStore(s events.ProcessedStore) Option {
	return func(a *Adapter) { a.processed = s }
}

func WithMetrics(m *metrics.AgentMetrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

func NewAdapter(dispatcher dispatch.Dispatcher, logger *logging.Logger, opts ...Option) *Adapter {
	if dispatcher == nil {
		panic("telegram: dispatcher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &Adapter{dispatcher: dispatcher, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleWebhook accepts one update. Only an undecodable body or a wrong
// secret is rejected; everything else answers 200.
func (a *Adapter) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if a.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(a.secret)) != 1 {
		a.logger.Warn("telegram webhook secret mismatch")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	a.HandleUpdate(r.Context(), update)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"ok":true}`)
}

// HandleUpdate dispatches the job for update, if any.
func (a *Adapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	job, ok := JobFromUpdate(update)
	if !ok {
		a.logger.Debug("ignoring telegram update", "update_id", update.UpdateID)
		return
	}
	logger := a.logger.With("update_id", update.UpdateID, "kind", job.Kind)

	if a.processed != nil {
		first, err := a.processed.MarkProcessed(ctx, providers.NameTelegramBot, job.MessageID)
		if err != nil {
			logger.Warn("dedupe check failed, processing anyway", "error", err)
		} else if !first {
			a.metrics.ObserveDuplicate(job.Channel)
			logger.Info("skipping duplicate telegram update")
			return
		}
	}
	if err := a.dispatcher.Dispatch(ctx, job); err != nil {
		logger.Error("failed to dispatch telegram update", "error", err)
	}
}

// JobFromUpdate maps a message update to a job. Updates without a message,
// such as edits and callbacks, are skipped.
func JobFromUpdate(update tgbotapi.Update) (dispatch.Job, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return dispatch.Job{}, false
	}

	job := dispatch.Job{
		Channel:   providers.ChannelTelegram,
		Address:   strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(update.UpdateID),
		Metadata:  map[string]string{"message_id": strconv.Itoa(msg.MessageID)},
	}
	if msg.From != nil && msg.From.UserName != "" {
		job.Metadata["username"] = msg.From.UserName
	}
	if msg.Date > 0 {
		job.ReceivedAt = time.Unix(int64(msg.Date), 0).UTC()
	}

	switch {
	case msg.IsCommand():
		cmd := strings.ToLower(msg.Command())
		if reply, ok := staticReplies[cmd]; ok {
			job.Kind = dispatch.KindDirect
			job.Text = reply
			break
		}
		job.Kind = dispatch.KindText
		job.Text = msg.Text
		job.Forced = forcedCommands[cmd]
	case len(msg.Photo) > 0:
		// sizes arrive smallest first
		largest := msg.Photo[len(msg.Photo)-1]
		job.Kind = dispatch.KindImage
		job.Image = &dispatch.ImageRef{ID: largest.FileUniqueID, FileID: largest.FileID, Caption: msg.Caption}
	case msg.Text != "":
		job.Kind = dispatch.KindText
		job.Text = msg.Text
	default:
		job.Kind = dispatch.KindUnsupported
	}
	return job, true
}

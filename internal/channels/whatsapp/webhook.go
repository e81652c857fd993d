// Package whatsapp receives WhatsApp webhooks from WHAPI and the Meta Cloud
// API and turns each message into a dispatch job.
package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/coop-chat-agent/internal/dispatch"
	"github.com/wolfman30/coop-chat-agent/internal/events"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const (
	eventTypeMessages = "messages"
	metaObject        = "whatsapp_business_account"
	maxBodyBytes      = 1 << 20
)

// Webhook handles GET and POST on the WhatsApp webhook path.
type Webhook struct {
	dispatcher  dispatch.Dispatcher
	processed   events.ProcessedStore
	allowed     map[string]struct{}
	countryCode string
	verifyToken string
	appSecret   string
	metrics     *metrics.AgentMetrics
	logger      *logging.Logger
}

type Option func(*Webhook)

// WithAllowedSenders restricts inbound messages to the given numbers. An
// empty list accepts every sender.
func WithAllowedSenders(numbers []string) Option {
	return func(h *Webhook) {
		for _, n := range numbers {
			if n = providers.NormalizePhone(n, h.countryCode); n != "" {
				h.allowed[n] = struct{}{}
			}
		}
	}
}

// WithCountryCode sets the prefix applied to 9-digit local numbers.
// It must come before WithAllowedSenders.
func WithCountryCode(cc string) Option {
	return func(h *Webhook) {
		if cc != "" {
			h.countryCode = cc
		}
	}
}

// WithProcessedStore skips message ids that were already handled.
func WithProcessedStore(s events.ProcessedStore) Option {
	return func(h *Webhook) { h.processed = s }
}

// WithMeta enables the Meta Cloud API verification challenge and payload
// signature check.
func WithMeta(verifyToken, appSecret string) Option {
	return func(h *Webhook) {
		h.verifyToken = verifyToken
		h.appSecret = appSecret
	}
}

func WithMetrics(m *metrics.AgentMetrics) Option {
	return func(h *Webhook) { h.metrics = m }
}

func NewWebhook(dispatcher dispatch.Dispatcher, logger *logging.Logger, opts ...Option) *Webhook {
	if dispatcher == nil {
		panic("whatsapp: dispatcher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Webhook{
		dispatcher:  dispatcher,
		allowed:     make(map[string]struct{}),
		countryCode: providers.DefaultCountryCode,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleGet answers the Meta verification challenge when hub.mode is
// present and reports health otherwise.
func (h *Webhook) HandleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "whatsapp_chatbot"})
		return
	}
	if q.Get("hub.mode") == "subscribe" && h.verifyToken != "" &&
		hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(h.verifyToken)) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandlePost accepts a webhook delivery. Anything past decoding answers 200
// so the vendor does not retry.
func (h *Webhook) HandlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "unreadable body"})
		return
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "invalid JSON"})
		return
	}

	var jobs []dispatch.Job
	if payload.Object != "" {
		if h.appSecret != "" && !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			h.logger.Warn("meta webhook signature mismatch")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		jobs = h.metaJobs(payload)
	} else {
		if payload.Event.Type != eventTypeMessages {
			h.logger.Info("ignoring whatsapp event", "event_type", payload.Event.Type)
			writeJSON(w, http.StatusOK, map[string]string{"status": "unsupported_event"})
			return
		}
		jobs = h.whapiJobs(payload)
	}

	processed := h.dispatch(r.Context(), jobs)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "processed": processed})
}

func (h *Webhook) whapiJobs(p Payload) []dispatch.Job {
	jobs := make([]dispatch.Job, 0, len(p.Messages))
	for _, m := range p.Messages {
		if m.FromMe {
			continue
		}
		address := m.From
		if address == "" {
			address, _, _ = strings.Cut(m.ChatID, "@")
		}
		address = providers.NormalizePhone(address, h.countryCode)
		job := dispatch.Job{
			Channel:   providers.ChannelWhatsApp,
			Address:   address,
			MessageID: m.ID,
			Metadata:  map[string]string{"provider": providers.NameWHAPI},
		}
		if m.FromName != "" {
			job.Metadata["from_name"] = m.FromName
		}
		if m.Timestamp > 0 {
			job.ReceivedAt = time.Unix(m.Timestamp, 0).UTC()
		}
		switch m.Type {
		case "text":
			job.Kind = dispatch.KindText
			if m.Text != nil {
				job.Text = m.Text.Body
			}
		case "image":
			job.Kind = dispatch.KindImage
			job.Image = &dispatch.ImageRef{}
			if m.Image != nil {
				job.Image = &dispatch.ImageRef{ID: m.Image.ID, Link: m.Image.Link, Caption: m.Image.Caption}
			}
		case "interactive":
			job.Kind = dispatch.KindInteractive
			addReply(job.Metadata, m.Interactive)
		default:
			job.Kind = dispatch.KindUnsupported
			job.Metadata["type"] = m.Type
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (h *Webhook) metaJobs(p Payload) []dispatch.Job {
	var jobs []dispatch.Job
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != eventTypeMessages {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				job := dispatch.Job{
					Channel:   providers.ChannelWhatsApp,
					Address:   providers.NormalizePhone(m.From, h.countryCode),
					MessageID: m.ID,
					Metadata:  map[string]string{"provider": providers.NameMeta},
				}
				if name := names[m.From]; name != "" {
					job.Metadata["from_name"] = name
				}
				if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && ts > 0 {
					job.ReceivedAt = time.Unix(ts, 0).UTC()
				}
				switch m.Type {
				case "text":
					job.Kind = dispatch.KindText
					if m.Text != nil {
						job.Text = m.Text.Body
					}
				case "image":
					job.Kind = dispatch.KindImage
					job.Image = &dispatch.ImageRef{}
					if m.Image != nil {
						job.Image = &dispatch.ImageRef{ID: m.Image.ID, FileID: m.Image.ID, Caption: m.Image.Caption}
					}
				case "interactive":
					job.Kind = dispatch.KindInteractive
					addReply(job.Metadata, m.Interactive)
				default:
					job.Kind = dispatch.KindUnsupported
					job.Metadata["type"] = m.Type
				}
				jobs = append(jobs, job)
			}
		}
	}
	return jobs
}

func addReply(md map[string]string, in *Interactive) {
	if in == nil {
		return
	}
	reply := in.ButtonReply
	if reply == nil {
		reply = in.ListReply
	}
	if reply != nil {
		md["reply_id"] = reply.ID
		md["reply_title"] = reply.Title
	}
}

// dispatch filters and hands off jobs, returning how many were accepted.
func (h *Webhook) dispatch(ctx context.Context, jobs []dispatch.Job) int {
	n := 0
	for _, job := range jobs {
		logger := h.logger.With("message_id", job.MessageID, "kind", job.Kind)
		if len(h.allowed) > 0 {
			if _, ok := h.allowed[job.Address]; !ok {
				logger.Info("ignoring whatsapp sender outside allow list")
				continue
			}
		}
		if h.processed != nil && job.MessageID != "" {
			first, err := h.processed.MarkProcessed(ctx, job.Metadata["provider"], job.MessageID)
			if err != nil {
				logger.Warn("dedupe check failed, processing anyway", "error", err)
			} else if !first {
				h.metrics.ObserveDuplicate(job.Channel)
				logger.Info("skipping duplicate whatsapp message")
				continue
			}
		}
		if err := h.dispatcher.Dispatch(ctx, job); err != nil {
			logger.Error("failed to dispatch whatsapp message", "error", err)
			continue
		}
		n++
	}
	return n
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}
	sigHex, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || sigHex == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sigHex))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/coop-chat-agent/internal/channels/telegram"
	"github.com/wolfman30/coop-chat-agent/internal/channels/whatsapp"
	"github.com/wolfman30/coop-chat-agent/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/coop-chat-agent/internal/http/middleware"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	WhatsApp           *whatsapp.Webhook
	Telegram           *telegram.Adapter
	AdminConversations *handlers.AdminConversationsHandler
	AdminMessaging     *handlers.AdminMessagingHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-IP limit on webhook routes; zero disables it.
	WebhookRatePerSecond float64
	WebhookRateBurst     int

	// HealthChecks run on /health; any failure answers 503.
	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", health(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/webhooks", func(hooks chi.Router) {
		if cfg.WebhookRatePerSecond > 0 {
			hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRatePerSecond, cfg.WebhookRateBurst))
		}
		if cfg.WhatsApp != nil {
			hooks.Get("/whatsapp", cfg.WhatsApp.HandleGet)
			hooks.Post("/whatsapp", cfg.WhatsApp.HandlePost)
		}
		if cfg.Telegram != nil {
			hooks.Post("/telegram", cfg.Telegram.HandleWebhook)
		}
	})

	// Admin routes are only mounted with a signing secret.
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.AdminConversations != nil {
				admin.Get("/conversations/{channel}/{address}", cfg.AdminConversations.GetConversation)
				admin.Put("/conversations/{channel}/{address}/status", cfg.AdminConversations.UpdateStatus)
			}
			if cfg.AdminMessaging != nil {
				admin.Post("/send", cfg.AdminMessaging.SendMessage)
			}
		})
	}

	return r
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			failed := map[string]string{}
			for name, check := range checks {
				if err := check(ctx); err != nil {
					failed[name] = err.Error()
				}
			}
			if len(failed) > 0 {
				resp = map[string]any{"status": "degraded", "failed": failed}
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Telegram
	TelegramBotToken      string
	TelegramAPIEndpoint   string
	TelegramMode          string
	TelegramWebhookSecret string

	// WhatsApp (Meta Cloud API and WHAPI)
	WhatsAppProvider           string
	WhatsAppAllowedSenders     []string
	WhatsAppDefaultCountryCode string
	MetaWhatsAppToken          string
	MetaWhatsAppPhoneNumberID  string
	MetaGraphAPIBase           string
	MetaVerifyToken            string
	MetaAppSecret              string
	WhapiToken                 string
	WhapiBaseURL               string
	WhapiMinDelay              time.Duration
	WhapiMaxDelay              time.Duration
	WhapiMaxPerMinute          int
	WhapiMinSpacing            time.Duration
	WhapiMaxDailyActiveMinutes int

	// Partner directory and ticketing API
	PartnerAPIBaseURL    string
	PartnerAPIToken      string
	PartnerAPITimeout    time.Duration
	ReceiptUploadTimeout time.Duration

	// AI fallback
	LLMProvider               string
	LLMFallbackProvider       string
	GeminiAPIKey              string
	GeminiModel               string
	BedrockModelID            string
	OpenAIAPIKey              string
	OpenAIModel               string
	AITimeout                 time.Duration
	AIAnswerUnknown           bool
	IntentConfidenceThreshold float64
	IntentKeywordsFile        string

	// Conversation behaviour
	AuthMaxFailures int
	AuthLockout     time.Duration
	TurnTimeout     time.Duration

	// Inbound dispatch
	InboundMode     string
	InboundQueueURL string
	WorkerCount     int

	// AWS
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	ReceiptArchiveBucket string

	// Support notifications
	SupportNotifyEmail string
	EmailProvider      string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	SESFromEmail       string

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Per-IP limit on webhook endpoints
	WebhookRatePerSecond float64
	WebhookRateBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIEndpoint:   getEnv("TELEGRAM_API_ENDPOINT", ""),
		TelegramMode:          strings.ToLower(strings.TrimSpace(getEnv("TELEGRAM_MODE", "webhook"))),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),

		WhatsAppProvider:           strings.ToLower(strings.TrimSpace(getEnv("WHATSAPP_PROVIDER", "auto"))),
		WhatsAppAllowedSenders:     getEnvAsList("WHATSAPP_ALLOWED_SENDERS"),
		WhatsAppDefaultCountryCode: getEnv("WHATSAPP_DEFAULT_COUNTRY_CODE", "51"),
		MetaWhatsAppToken:          getEnv("META_WHATSAPP_TOKEN", ""),
		MetaWhatsAppPhoneNumberID:  getEnv("META_WHATSAPP_PHONE_NUMBER_ID", ""),
		MetaGraphAPIBase:           getEnv("META_GRAPH_API_BASE", "https://graph.facebook.com/v18.0"),
		MetaVerifyToken:            getEnv("META_VERIFY_TOKEN", ""),
		MetaAppSecret:              getEnv("META_APP_SECRET", ""),
		WhapiToken:                 getEnv("WHAPI_TOKEN", ""),
		WhapiBaseURL:               getEnv("WHAPI_BASE_URL", "https://gate.whapi.cloud"),
		WhapiMinDelay:              getEnvAsDuration("WHAPI_MIN_DELAY", 5*time.Second),
		WhapiMaxDelay:              getEnvAsDuration("WHAPI_MAX_DELAY", 10*time.Second),
		WhapiMaxPerMinute:          getEnvAsInt("WHAPI_MAX_PER_MINUTE", 12),
		WhapiMinSpacing:            getEnvAsDuration("WHAPI_MIN_SPACING", 5*time.Second),
		WhapiMaxDailyActiveMinutes: getEnvAsInt("WHAPI_MAX_DAILY_ACTIVE_MINUTES", 6*60),

		PartnerAPIBaseURL:    getEnv("PARTNER_API_BASE_URL", "http://localhost:8000"),
		PartnerAPIToken:      getEnv("PARTNER_API_TOKEN", ""),
		PartnerAPITimeout:    getEnvAsDuration("PARTNER_API_TIMEOUT", 10*time.Second),
		ReceiptUploadTimeout: getEnvAsDuration("RECEIPT_UPLOAD_TIMEOUT", 30*time.Second),

		LLMProvider:               strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		LLMFallbackProvider:       strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		GeminiAPIKey:              getEnv("GEMINI_API_KEY", ""),
		GeminiModel:               getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		BedrockModelID:            getEnv("BEDROCK_MODEL_ID", ""),
		OpenAIAPIKey:              getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:               getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AITimeout:                 getEnvAsDuration("AI_TIMEOUT", 20*time.Second),
		AIAnswerUnknown:           getEnvAsBool("AI_ANSWER_UNKNOWN", false),
		IntentConfidenceThreshold: getEnvAsFloat("INTENT_CONFIDENCE_THRESHOLD", 0.6),
		IntentKeywordsFile:        getEnv("INTENT_KEYWORDS_FILE", ""),

		AuthMaxFailures: getEnvAsInt("AUTH_MAX_FAILURES", 5),
		AuthLockout:     getEnvAsDuration("AUTH_LOCKOUT", 15*time.Minute),
		TurnTimeout:     getEnvAsDuration("TURN_TIMEOUT", 90*time.Second),

		InboundMode:     strings.ToLower(strings.TrimSpace(getEnv("INBOUND_MODE", "inline"))),
		InboundQueueURL: getEnv("INBOUND_QUEUE_URL", ""),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ReceiptArchiveBucket: getEnv("RECEIPT_ARCHIVE_BUCKET", ""),

		SupportNotifyEmail: getEnv("SUPPORT_NOTIFY_EMAIL", ""),
		EmailProvider:      strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "Asistente XoFi"),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		WebhookRatePerSecond: getEnvAsFloat("WEBHOOK_RATE_PER_SECOND", 20),
		WebhookRateBurst:     getEnvAsInt("WEBHOOK_RATE_BURST", 40),
	}
}

// UsesAWS reports whether any configured component needs an AWS SDK config.
func (c *Config) UsesAWS() bool {
	if c == nil {
		return false
	}
	return c.InboundMode == "sqs" ||
		c.ReceiptArchiveBucket != "" ||
		c.EmailProvider == "ses" ||
		c.LLMProvider == "bedrock" ||
		c.LLMFallbackProvider == "bedrock"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/coop-chat-agent/internal/config"
	"github.com/wolfman30/coop-chat-agent/internal/events"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/internal/ratelimit"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

func testConfig() *appconfig.Config {
	cfg := appconfig.Load()
	cfg.DatabaseURL = ""
	cfg.RedisAddr = ""
	cfg.LLMProvider = "none"
	cfg.LLMFallbackProvider = ""
	cfg.InboundMode = ModeInline
	cfg.EmailProvider = "stub"
	cfg.ReceiptArchiveBucket = ""
	cfg.IntentKeywordsFile = ""
	cfg.TelegramBotToken = ""
	cfg.TelegramWebhookSecret = ""
	cfg.AdminJWTSecret = ""
	cfg.WebhookRatePerSecond = 0
	return cfg
}

// fakeTelegram records sendMessage calls.
type fakeTelegram struct {
	mu    sync.Mutex
	sends []url.Values
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	values, _ := url.ParseQuery(string(body))
	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		f.mu.Lock()
		f.sends = append(f.sends, values)
		f.mu.Unlock()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":555,"type":"private"}}}`)
}

func (f *fakeTelegram) calls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.sends...)
}

func TestBuildInlineTelegramRoundTrip(t *testing.T) {
	tg := &fakeTelegram{}
	srv := httptest.NewServer(tg)
	defer srv.Close()

	cfg := testConfig()
	cfg.TelegramBotToken = "TOKEN"
	cfg.TelegramAPIEndpoint = srv.URL + "/bot%s/%s"
	cfg.TelegramWebhookSecret = "s3cret"

	c, err := Build(context.Background(), cfg, logging.Discard(), Options{Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Queue)
	assert.Nil(t, c.NewWorker())
	require.NotNil(t, c.TelegramBot)

	update := `{"update_id":9001,"message":{"message_id":1,"date":1710000000,"chat":{"id":555,"type":"private"},"text":"/start"}}`
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram", strings.NewReader(update))
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "s3cret")
		rec := httptest.NewRecorder()
		c.Handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send())
	calls := tg.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "555", calls[0].Get("chat_id"))
	assert.Equal(t, "Markdown", calls[0].Get("parse_mode"))
	assert.NotEmpty(t, calls[0].Get("text"))

	// Telegram redelivers on timeouts; the same update must not answer twice.
	require.Equal(t, http.StatusOK, send())
	assert.Len(t, tg.calls(), 1)
}

func TestBuildTelegramBotSharesProviderClient(t *testing.T) {
	cfg := testConfig()
	cfg.TelegramBotToken = "TOKEN"
	cfg.TelegramAPIEndpoint = "http://127.0.0.1:0/bot%s/%s"

	factory := BuildProviderFactory(cfg, nil, metrics.NewAgentMetrics(prometheus.NewRegistry()), logging.Discard())
	bot := BuildTelegramBot(factory)
	require.NotNil(t, bot)

	p, err := factory.Get(providers.ChannelTelegram, providers.NameTelegramBot)
	require.NoError(t, err)
	instrumented, ok := p.(*providers.Instrumented)
	require.True(t, ok)
	tp, ok := instrumented.Provider.(*providers.TelegramProvider)
	require.True(t, ok)
	assert.Same(t, tp.Bot(), bot)

	cfg.TelegramBotToken = ""
	assert.Nil(t, BuildTelegramBot(BuildProviderFactory(cfg, nil, nil, logging.Discard())))
	assert.Nil(t, BuildTelegramBot(nil))
}

func TestBuildHealthAndMetrics(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	c, err := Build(context.Background(), cfg, logging.Discard(), Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Redis)
	_, isRedis := c.Limiter.(*ratelimit.RedisLimiter)
	assert.True(t, isRedis)

	rec := httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()
	rec = httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")

	rec = httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestBuildMemoryModeHasWorker(t *testing.T) {
	cfg := testConfig()
	cfg.InboundMode = ModeMemory

	c, err := Build(context.Background(), cfg, logging.Discard(), Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Queue)
	assert.NotNil(t, c.NewWorker())
	_, isLocal := c.Limiter.(*ratelimit.LocalLimiter)
	assert.True(t, isLocal)
}

func TestBuildRejectsBadSetups(t *testing.T) {
	cfg := testConfig()
	cfg.InboundMode = "kafka"
	_, err := Build(context.Background(), cfg, logging.Discard(), Options{})
	require.Error(t, err)

	cfg = testConfig()
	cfg.InboundMode = ModeSQS
	_, err = Build(context.Background(), cfg, logging.Discard(), Options{})
	require.ErrorContains(t, err, "AWS")

	cfg = testConfig()
	cfg.InboundMode = ModeSQS
	cfg.InboundQueueURL = ""
	loader := func(context.Context, *appconfig.Config) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	_, err = Build(context.Background(), cfg, logging.Discard(), Options{AWS: loader})
	require.ErrorContains(t, err, "INBOUND_QUEUE_URL")

	_, err = Build(context.Background(), nil, logging.Discard(), Options{})
	require.Error(t, err)
}

func TestBuildRedisClient(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()

	assert.Nil(t, BuildRedisClient(ctx, nil, logger, true))
	assert.Nil(t, BuildRedisClient(ctx, &appconfig.Config{}, logger, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(ctx, &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	_ = client.Close()

	addr := mr.Addr()
	mr.Close()
	assert.Nil(t, BuildRedisClient(ctx, &appconfig.Config{RedisAddr: addr}, logger, true))
	unverified := BuildRedisClient(ctx, &appconfig.Config{RedisAddr: addr}, logger, false)
	require.NotNil(t, unverified)
	_ = unverified.Close()
}

func TestBuildProcessedStoreFallsBackToMemory(t *testing.T) {
	store := BuildProcessedStore(nil, nil, logging.Discard())
	failOpen, ok := store.(events.FailOpen)
	require.True(t, ok)
	_, isMemory := failOpen.Store.(*events.MemoryProcessedStore)
	assert.True(t, isMemory)

	first, err := store.MarkProcessed(context.Background(), "whapi", "m1")
	require.NoError(t, err)
	again, err := store.MarkProcessed(context.Background(), "whapi", "m1")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)
}

func TestBuildFetcherScopesCredentials(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("img"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MetaWhatsAppToken = "meta-token"
	cfg.WhapiToken = "whapi-token"
	cfg.WhapiBaseURL = "https://gate.whapi.cloud"

	_, err := BuildFetcher(cfg).Fetch(context.Background(), srv.URL+"/receipt.jpg")
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

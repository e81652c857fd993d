package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/ratelimit"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"987 654 321":     "51987654321",
		"+51 987-654-321": "51987654321",
		"15551234567":     "15551234567",
	}
	for in, want := range cases {
		if got := NormalizePhone(in, ""); got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
	assert.Equal(t, "57987654321", NormalizePhone("987654321", "57"))
}

func TestNormalizeTelegramRecipient(t *testing.T) {
	assert.Equal(t, "@cooperativa", NormalizeTelegramRecipient(" @cooperativa "))
	assert.Equal(t, "123456", NormalizeTelegramRecipient("chat:123456"))
	assert.Equal(t, "-100200", NormalizeTelegramRecipient("-100200"))
	assert.Equal(t, "", NormalizeTelegramRecipient("abc"))
}

func TestMetaProviderSendText(t *testing.T) {
	var got metaSendRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	p := NewMetaProvider(MetaConfig{Token: "tok", PhoneNumberID: "555", GraphAPIBase: srv.URL}, logging.Discard())
	res := p.SendTextWithButton(context.Background(), "987654321", "Pague aquí", "Pagar", "https://pay.example/1")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "wamid.1", res.MessageID)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "/555/messages", path)
	assert.Equal(t, "51987654321", got.To)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "Pague aquí\n\nPagar: https://pay.example/1", got.Text.Body)
}

func TestMetaProviderTemplateAndErrors(t *testing.T) {
	var got metaSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Type == "template" {
			_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.t"}]}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`))
	}))
	defer srv.Close()

	p := NewMetaProvider(MetaConfig{Token: "tok", PhoneNumberID: "555", GraphAPIBase: srv.URL}, logging.Discard())
	res := p.SendTemplate(context.Background(), "51987654321", Template{Name: "recordatorio_pago"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "es", got.Template.Language.Code)

	res = p.SendText(context.Background(), "51987654321", "hola")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Invalid parameter")

	assert.False(t, p.SendText(context.Background(), "123", "hola").Success)
	assert.False(t, NewMetaProvider(MetaConfig{}, logging.Discard()).SendText(context.Background(), "987654321", "x").Success)
}

type countingLimiter struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (l *countingLimiter) Wait(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.err
}

func TestWHAPIProviderSendsTypingThenMessage(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"sent":true,"message":{"id":"wh-1"}}`))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	var paused time.Duration
	pacer := ratelimit.NewPacer(5*time.Second, 10*time.Second).WithSleeper(func(_ context.Context, d time.Duration) error {
		paused = d
		return nil
	})
	p := NewWHAPIProvider(WHAPIConfig{Token: "tok", BaseURL: srv.URL, Limiter: limiter, Pacer: pacer}, logging.Discard())

	res := p.SendTextWithButton(context.Background(), "987654321", "Su cuota vence hoy", "Pagar", "http://pay.example/1")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "wh-1", res.MessageID)
	assert.Equal(t, []string{"/messages/presence", "/messages/interactive"}, paths)
	assert.Equal(t, "51987654321@s.whatsapp.net", bodies[0]["to"])
	assert.Equal(t, "typing", bodies[0]["state"])
	assert.Equal(t, []string{NameWHAPI}, limiter.keys)
	assert.GreaterOrEqual(t, paused, 5*time.Second)

	action := bodies[1]["action"].(map[string]any)
	button := action["buttons"].([]any)[0].(map[string]any)
	assert.Equal(t, "https://pay.example/1", button["url"])
	assert.Equal(t, "Pagar", button["title"])
}

func TestWHAPIProviderFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/messages/presence" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"legacy-id"}`))
	}))
	defer srv.Close()

	p := NewWHAPIProvider(WHAPIConfig{Token: "tok", BaseURL: srv.URL}, logging.Discard())
	res := p.SendText(context.Background(), "51987654321", "hola")
	require.True(t, res.Success, "typing failures must not block the send: %s", res.Error)
	assert.Equal(t, "legacy-id", res.MessageID)

	assert.Equal(t, "Invalid recipient phone number", p.SendText(context.Background(), "12345", "x").Error)
	assert.False(t, p.SendTemplate(context.Background(), "51987654321", Template{Name: "x"}).Success)

	limited := NewWHAPIProvider(WHAPIConfig{Token: "tok", BaseURL: srv.URL, Limiter: &countingLimiter{err: ratelimit.ErrDeadline}}, logging.Discard())
	res = limited.SendText(context.Background(), "51987654321", "hola")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rate limited")

	assert.False(t, NewWHAPIProvider(WHAPIConfig{}, logging.Discard()).IsConfigured())
}

func TestTelegramProviderSend(t *testing.T) {
	var mu sync.Mutex
	var forms []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{"path": r.URL.Path}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		mu.Lock()
		forms = append(forms, form)
		first := len(forms) == 1
		mu.Unlock()
		if first && form["parse_mode"] != "" && strings.Contains(form["text"], "<b") {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unclosed tag"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"chat":{"id":123,"type":"private"},"date":0}}`))
	}))
	defer srv.Close()

	p := NewTelegramProvider(TelegramConfig{Token: "T0K", Endpoint: srv.URL + "/bot%s/%s"}, logging.Discard())
	require.True(t, p.IsConfigured())

	res := p.SendText(context.Background(), "123", "<b oops")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "42", res.MessageID)
	require.Len(t, forms, 2)
	assert.Equal(t, "/botT0K/sendMessage", forms[0]["path"])
	assert.Equal(t, "HTML", forms[0]["parse_mode"])
	assert.Empty(t, forms[1]["parse_mode"])

	res = p.SendTextWithButton(context.Background(), "@cooperativa", "Pague", "Pagar", "https://pay.example")
	require.True(t, res.Success, res.Error)
	last := forms[len(forms)-1]
	assert.Equal(t, "@cooperativa", last["chat_id"])
	assert.Contains(t, last["reply_markup"], "https://pay.example")

	assert.Equal(t, "Invalid recipient ID", p.SendText(context.Background(), "abc", "x").Error)
	assert.False(t, NewTelegramProvider(TelegramConfig{}, logging.Discard()).SendText(context.Background(), "1", "x").Success)
}

type fakeProvider struct {
	name       string
	configured bool
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }
func (f *fakeProvider) SendText(context.Context, string, string) Result {
	if !f.configured {
		return failure("not configured")
	}
	return Result{Success: true}
}
func (f *fakeProvider) SendTextWithButton(ctx context.Context, r, t, _, _ string) Result {
	return f.SendText(ctx, r, t)
}
func (f *fakeProvider) SendTemplate(context.Context, string, Template) Result {
	return failure("unsupported")
}

func TestFactoryResolution(t *testing.T) {
	meta := &fakeProvider{name: NameMeta}
	whapi := &fakeProvider{name: NameWHAPI}
	builds := 0
	f := NewFactory(logging.Discard())
	f.Register(ChannelWhatsApp, NameMeta, func() Provider { builds++; return meta })
	f.Register(ChannelWhatsApp, NameWHAPI, func() Provider { return whapi })
	f.SetDefault(ChannelWhatsApp, NameMeta)

	p, err := f.Get(ChannelWhatsApp, "")
	require.NoError(t, err)
	assert.Same(t, meta, p, "unconfigured channel falls back to its default")

	whapi.configured = true
	p, _ = f.Get(ChannelWhatsApp, "")
	assert.Same(t, whapi, p, "first configured provider wins")

	meta.configured = true
	f.SetPreference(ChannelWhatsApp, "WHAPI")
	p, _ = f.Get("WhatsApp", "")
	assert.Same(t, whapi, p)

	whapi.configured = false
	p, _ = f.Get(ChannelWhatsApp, "")
	assert.Same(t, meta, p, "unconfigured preference is skipped")

	p, _ = f.Get(ChannelWhatsApp, NameWHAPI)
	assert.Same(t, whapi, p, "explicit name is honoured")

	_, err = f.Get("sms", "")
	assert.Error(t, err)
	assert.Equal(t, 1, builds, "providers are built once")

	infos := f.Available(ChannelWhatsApp)
	require.Len(t, infos, 2)
	assert.Equal(t, Info{Channel: ChannelWhatsApp, Name: NameMeta, Configured: true}, infos[0])
}

func TestDefaultFactoryAndInstrumentation(t *testing.T) {
	m := metrics.NewAgentMetrics(prometheus.NewRegistry())
	f := NewDefaultFactory(Settings{
		WHAPI:              WHAPIConfig{Token: "tok"},
		WhatsAppPreference: "auto",
		Metrics:            m,
	}, logging.Discard())

	p, err := f.Get(ChannelWhatsApp, "")
	require.NoError(t, err)
	assert.Equal(t, NameWHAPI, p.Name())
	_, instrumented := p.(*Instrumented)
	assert.True(t, instrumented)

	tg, err := f.Get(ChannelTelegram, "")
	require.NoError(t, err)
	assert.False(t, tg.IsConfigured())
	assert.False(t, tg.SendText(context.Background(), "1", "x").Success)
}

func TestPostJSONRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := postJSON(context.Background(), srv.Client(), srv.URL, "", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 10
	_, err = postJSON(context.Background(), srv.Client(), srv.URL, "", nil)
	require.NoError(t, err)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()
	_, err = postJSON(context.Background(), bad.Client(), bad.URL, "", nil)
	var se *statusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Status)
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/coop-chat-agent/internal/providers"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

type sentMessage struct {
	recipient, text, label, url string
}

type fakeProvider struct {
	sent   []sentMessage
	result providers.Result
}

func (p *fakeProvider) Name() string       { return "fake" }
func (p *fakeProvider) IsConfigured() bool { return true }

func (p *fakeProvider) SendText(_ context.Context, recipient, text string) providers.Result {
	p.sent = append(p.sent, sentMessage{recipient: recipient, text: text})
	return p.result
}

func (p *fakeProvider) SendTextWithButton(_ context.Context, recipient, text, label, url string) providers.Result {
	p.sent = append(p.sent, sentMessage{recipient: recipient, text: text, label: label, url: url})
	return p.result
}

func (p *fakeProvider) SendTemplate(context.Context, string, providers.Template) providers.Result {
	return providers.Result{Error: "unsupported"}
}

type fakeResolver struct {
	provider *fakeProvider
	channel  string
}

func (r *fakeResolver) Get(channel, _ string) (providers.Provider, error) {
	r.channel = channel
	if channel != providers.ChannelWhatsApp && channel != providers.ChannelTelegram {
		return nil, errors.New("providers: unsupported channel")
	}
	return r.provider, nil
}

func postSend(h *AdminMessagingHandler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.SendMessage(rec, httptest.NewRequest(http.MethodPost, "/admin/send", strings.NewReader(body)))
	return rec
}

func TestSendMessageWithButton(t *testing.T) {
	provider := &fakeProvider{result: providers.Result{Success: true, MessageID: "wamid.1"}}
	resolver := &fakeResolver{provider: provider}
	h := NewAdminMessagingHandler(resolver, logging.Discard())

	rec := postSend(h, `{"channel":"WhatsApp","recipient":"987654321","text":"Recordatorio de pago","button_label":"Pagar","button_url":"https://pagos.example/1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "whatsapp", resolver.channel)
	require.Len(t, provider.sent, 1)
	assert.Equal(t, sentMessage{recipient: "987654321", text: "Recordatorio de pago", label: "Pagar", url: "https://pagos.example/1"}, provider.sent[0])

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "wamid.1", body["message_id"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "fake", body["provider"])
}

func TestSendMessageFailuresAndValidation(t *testing.T) {
	provider := &fakeProvider{result: providers.Result{Error: "invalid phone number"}}
	h := NewAdminMessagingHandler(&fakeResolver{provider: provider}, logging.Discard())

	rec := postSend(h, `{"channel":"telegram","recipient":"123","text":"hola"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid phone number")

	assert.Equal(t, http.StatusBadRequest, postSend(h, `{"channel":"sms","recipient":"1","text":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postSend(h, `{"channel":"telegram","recipient":"","text":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postSend(h, `{"channel":"telegram","recipient":"1","text":"x","button_label":"Pagar"}`).Code)
	assert.Equal(t, http.StatusBadRequest, postSend(h, `{`).Code)
	assert.Len(t, provider.sent, 1)
}

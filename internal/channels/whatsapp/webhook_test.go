package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/coop-chat-agent/internal/dispatch"
	"github.com/wolfman30/coop-chat-agent/internal/events"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job dispatch.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func post(t *testing.T, h *Webhook, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.HandlePost(rec, req)
	return rec
}

const whapiBatch = `{
  "messages": [
    {"id":"m1","from_me":false,"type":"text","chat_id":"51987654321@s.whatsapp.net","from":"51987654321","from_name":"Ana","timestamp":1710410400,"text":{"body":"hola"}},
    {"id":"m2","from_me":true,"type":"text","chat_id":"51987654321@s.whatsapp.net","from":"51931314241","text":{"body":"echo"}},
    {"id":"m3","from_me":false,"type":"image","chat_id":"51987654321@s.whatsapp.net","from":"51987654321","image":{"id":"img-1","link":"https://media.example/img.jpg","caption":"pago 150 soles"}},
    {"id":"m4","from_me":false,"type":"interactive","from":"51987654321","interactive":{"type":"button_reply","button_reply":{"id":"menu","title":"Menu"}}},
    {"id":"m5","from_me":false,"type":"sticker","from":"51987654321"}
  ],
  "event": {"type":"messages","event":"post"},
  "channel_id": "CHAN-1"
}`

func TestWHAPIWebhookBuildsJobs(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhook(d, logging.Discard())

	rec := post(t, h, whapiBatch, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(d.jobs) != 4 {
		t.Fatalf("expected 4 jobs (from_me skipped), got %d", len(d.jobs))
	}

	text := d.jobs[0]
	if text.Kind != dispatch.KindText || text.Text != "hola" || text.Address != "51987654321" || text.MessageID != "m1" {
		t.Fatalf("unexpected text job %+v", text)
	}
	if text.Metadata["from_name"] != "Ana" || text.Metadata["provider"] != "whapi" {
		t.Fatalf("unexpected metadata %+v", text.Metadata)
	}
	if !text.ReceivedAt.Equal(time.Unix(1710410400, 0)) {
		t.Fatalf("unexpected received at %v", text.ReceivedAt)
	}

	img := d.jobs[1]
	if img.Kind != dispatch.KindImage || img.Image == nil || img.Image.Link != "https://media.example/img.jpg" || img.Image.Caption != "pago 150 soles" {
		t.Fatalf("unexpected image job %+v", img)
	}
	if d.jobs[2].Kind != dispatch.KindInteractive || d.jobs[2].Metadata["reply_id"] != "menu" {
		t.Fatalf("unexpected interactive job %+v", d.jobs[2])
	}
	if d.jobs[3].Kind != dispatch.KindUnsupported || d.jobs[3].Metadata["type"] != "sticker" {
		t.Fatalf("unexpected unsupported job %+v", d.jobs[3])
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "success" || resp["processed"] != float64(4) {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestWHAPIWebhookIgnoresOtherEvents(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhook(d, logging.Discard())

	rec := post(t, h, `{"event":{"type":"statuses"},"messages":[{"id":"x","type":"text","from":"51987654321"}]}`, nil)
	if rec.Code != http.StatusOK || len(d.jobs) != 0 {
		t.Fatalf("expected ignored event, got %d with %d jobs", rec.Code, len(d.jobs))
	}
	if !strings.Contains(rec.Body.String(), "unsupported_event") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestWebhookRejectsInvalidJSON(t *testing.T) {
	h := NewWebhook(&recordingDispatcher{}, logging.Discard())
	if rec := post(t, h, `{not json`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookAnswers200WhenDispatchFails(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("queue down")}
	h := NewWebhook(d, logging.Discard())
	rec := post(t, h, whapiBatch, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"processed":0`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestWebhookAllowedSenders(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhook(d, logging.Discard(), WithAllowedSenders([]string{"999 888 777"}))

	body := `{"event":{"type":"messages"},"messages":[
		{"id":"a","type":"text","from":"51999888777","text":{"body":"hola"}},
		{"id":"b","type":"text","from":"51987654321","text":{"body":"hola"}}]}`
	post(t, h, body, nil)
	if len(d.jobs) != 1 || d.jobs[0].MessageID != "a" {
		t.Fatalf("expected only allowed sender, got %+v", d.jobs)
	}
}

func TestWebhookSkipsDuplicates(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhook(d, logging.Discard(), WithProcessedStore(events.NewMemoryProcessedStore(time.Hour)))

	body := `{"event":{"type":"messages"},"messages":[{"id":"dup","type":"text","from":"51987654321","text":{"body":"hola"}}]}`
	post(t, h, body, nil)
	post(t, h, body, nil)
	if len(d.jobs) != 1 {
		t.Fatalf("expected redelivery to be skipped, got %d jobs", len(d.jobs))
	}
}

func TestWebhookHealthAndVerification(t *testing.T) {
	h := NewWebhook(&recordingDispatcher{}, logging.Discard(), WithMeta("verify-me", ""))

	cases := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"health", "", http.StatusOK, `{"service":"whatsapp_chatbot","status":"ok"}`},
		{"challenge", "?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=CH_1", http.StatusOK, "CH_1"},
		{"wrong token", "?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=CH_1", http.StatusForbidden, ""},
		{"wrong mode", "?hub.mode=unsubscribe&hub.verify_token=verify-me", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleGet(rec, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp"+tc.query, nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.body != "" && strings.TrimSpace(rec.Body.String()) != tc.body {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

const metaPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{"id":"WABA","changes":[{"field":"messages","value":{
    "messaging_product":"whatsapp",
    "metadata":{"display_phone_number":"51931314241","phone_number_id":"PN"},
    "contacts":[{"wa_id":"51987654321","profile":{"name":"Ana"}}],
    "messages":[
      {"id":"wamid.1","from":"51987654321","timestamp":"1710410400","type":"text","text":{"body":"saldo"}},
      {"id":"wamid.2","from":"51987654321","timestamp":"1710410401","type":"image","image":{"id":"media-9","mime_type":"image/jpeg","caption":"monto 80"}}
    ]}}]}]
}`

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestMetaWebhook(t *testing.T) {
	d := &recordingDispatcher{}
	h := NewWebhook(d, logging.Discard(), WithMeta("verify-me", "app-secret"))

	if rec := post(t, h, metaPayload, map[string]string{"X-Hub-Signature-256": sign("wrong", metaPayload)}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
	if len(d.jobs) != 0 {
		t.Fatal("unsigned payload must not dispatch")
	}

	rec := post(t, h, metaPayload, map[string]string{"X-Hub-Signature-256": sign("app-secret", metaPayload)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(d.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(d.jobs))
	}
	if j := d.jobs[0]; j.Kind != dispatch.KindText || j.Text != "saldo" || j.Metadata["from_name"] != "Ana" || j.Metadata["provider"] != "meta" {
		t.Fatalf("unexpected text job %+v", j)
	}
	if j := d.jobs[1]; j.Image == nil || j.Image.FileID != "media-9" || j.Image.Link != "" || j.Image.Caption != "monto 80" {
		t.Fatalf("unexpected image job %+v", j)
	}
}

func TestVerifySignature(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[]}`
	valid := sign("secret", body)

	tests := []struct {
		name      string
		secret    string
		body      string
		signature string
		want      bool
	}{
		{"valid signature", "secret", body, valid, true},
		{"wrong signature", "secret", body, "sha256=00", false},
		{"empty signature", "secret", body, "", false},
		{"empty secret", "", body, valid, false},
		{"missing prefix", "secret", body, strings.TrimPrefix(valid, "sha256="), false},
		{"tampered body", "secret", "tampered", valid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, []byte(tt.body), tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

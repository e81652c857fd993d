package receipts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/coop-chat-agent/internal/archive"
	"github.com/wolfman30/coop-chat-agent/internal/assistant"
	"github.com/wolfman30/coop-chat-agent/internal/conversation"
	"github.com/wolfman30/coop-chat-agent/internal/format"
	"github.com/wolfman30/coop-chat-agent/internal/intent"
	"github.com/wolfman30/coop-chat-agent/internal/notify"
	"github.com/wolfman30/coop-chat-agent/internal/observability/metrics"
	"github.com/wolfman30/coop-chat-agent/internal/partners"
	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

type fakeFetcher struct {
	data  []byte
	err   error
	links []string
}

func (f *fakeFetcher) Fetch(_ context.Context, link string) ([]byte, error) {
	f.links = append(f.links, link)
	return f.data, f.err
}

type fakeUploader struct {
	uploads []partners.ReceiptUpload
	receipt *partners.Receipt
	err     error
}

func (u *fakeUploader) UploadReceipt(_ context.Context, up partners.ReceiptUpload) (*partners.Receipt, error) {
	u.uploads = append(u.uploads, up)
	return u.receipt, u.err
}

type fakeExtractor struct {
	fields assistant.ReceiptFields
	mime   string
}

func (e *fakeExtractor) ExtractReceiptFields(_ context.Context, _ string, _ []byte, mime string) assistant.ReceiptFields {
	e.mime = mime
	return e.fields
}

type fakeArchiver struct {
	records []archive.ReceiptRecord
	err     error
}

func (a *fakeArchiver) ArchiveReceipt(_ context.Context, rec archive.ReceiptRecord, _ []byte) (string, error) {
	a.records = append(a.records, rec)
	return "key", a.err
}

type fakeNotifier struct{ events []notify.ReceiptEvent }

func (n *fakeNotifier) ReceiptUploaded(_ context.Context, evt notify.ReceiptEvent) {
	n.events = append(n.events, evt)
}

type fixture struct {
	store     *conversation.MemoryStore
	engine    *conversation.Engine
	fetcher   *fakeFetcher
	uploader  *fakeUploader
	extractor *fakeExtractor
	archiver  *fakeArchiver
	notifier  *fakeNotifier
	registry  *prometheus.Registry
	proc      *Processor
}

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    conversation.NewMemoryStore(),
		fetcher:  &fakeFetcher{data: pngBytes(512)},
		uploader: &fakeUploader{receipt: &partners.Receipt{ID: "901", Amount: 150, PaymentDate: "2025-03-10"}},
		extractor: &fakeExtractor{fields: assistant.ReceiptFields{
			Amount: 150, Date: "2025-03-10", Confidence: 0.85, Method: assistant.MethodAIOCR,
		}},
		archiver: &fakeArchiver{},
		notifier: &fakeNotifier{},
		registry: prometheus.NewRegistry(),
	}
	f.engine = conversation.NewEngine(f.store, nil, nil, logging.Discard())
	f.proc = NewProcessor(f.engine, f.uploader, f.extractor, logging.Discard(),
		WithFetcher(f.fetcher),
		WithArchiver(f.archiver),
		WithNotifier(f.notifier),
		WithMetrics(metrics.NewAgentMetrics(f.registry)),
		WithClock(func() time.Time { return fixedNow }),
	)
	f.proc.newID = func() string { return "ab12cd34" }
	return f
}

func (f *fixture) authenticate(t *testing.T, channel, address string) {
	t.Helper()
	ctx := context.Background()
	key := conversation.Key{Channel: channel, Address: address}
	_, err := f.store.GetOrCreate(ctx, key)
	require.NoError(t, err)
	_, err = f.store.Update(ctx, key, func(c *conversation.Conversation) error {
		c.Partner = &partners.Partner{ID: 42, FirstName: "Ana", FullName: "Ana Quispe", DocumentNumber: "12345678"}
		c.Authenticated = true
		c.Status = conversation.StatusActive
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) messages(t *testing.T, channel, address string) []conversation.Message {
	t.Helper()
	_, msgs, err := f.engine.History(context.Background(), conversation.Key{Channel: channel, Address: address}, 0)
	require.NoError(t, err)
	return msgs
}

func TestProcessUploadsReceipt(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t, "whatsapp", "51987654321")

	res := f.proc.Process(context.Background(), "whatsapp", "51987654321", Image{
		ID: "img-1", Link: "https://media.example/img-1", Caption: "pago cuota marzo",
	})

	require.Equal(t, OutcomeUploaded, res.Outcome, res.Reply)
	assert.Equal(t, "901", res.ReceiptID)
	assert.Contains(t, res.Reply, "Número de recibo: 901")
	assert.Contains(t, res.Reply, "Fecha: 2025-03-10")
	assert.NotContains(t, res.Reply, "Datos procesados", "amount was not typed by the user")

	require.Len(t, f.uploader.uploads, 1)
	up := f.uploader.uploads[0]
	assert.Equal(t, int64(42), up.PartnerID)
	assert.Equal(t, "receipt_42_51987654321_ab12cd34.png", up.Filename)
	assert.Equal(t, 150.0, up.Amount)
	assert.Contains(t, up.Notes, "Caption: pago cuota marzo")
	assert.Contains(t, up.Notes, "Subido via whatsapp")
	assert.Equal(t, "image/png", f.extractor.mime)

	require.Len(t, f.archiver.records, 1)
	assert.Equal(t, archive.Hash("12345678"), f.archiver.records[0].DocHash)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "Ana Quispe", f.notifier.events[0].PartnerName)
	assert.Equal(t, fixedNow, f.notifier.events[0].OccurredAt)

	msgs := f.messages(t, "whatsapp", "51987654321")
	require.Len(t, msgs, 1)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "[IMAGE] pago cuota marzo", msgs[0].Body)
	assert.Equal(t, intent.UploadReceipt, msgs[0].Intent)
	assert.Equal(t, "901", msgs[0].Metadata["receipt_id"])
	assert.Equal(t, "https://media.example/img-1", msgs[0].Metadata["image_link"])

	expected := `
# HELP coop_agent_receipts_total Receipt intake outcomes
# TYPE coop_agent_receipts_total counter
coop_agent_receipts_total{outcome="uploaded"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "coop_agent_receipts_total"))
}

func TestProcessEchoesCaptionAmount(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t, "telegram", "777")
	f.extractor.fields = assistant.ReceiptFields{Amount: 80.5, Date: "2025-03-14", Method: assistant.MethodCaption, AmountFromCaption: true}
	f.uploader.receipt = &partners.Receipt{ID: "5"}

	res := f.proc.Process(context.Background(), "telegram", "777", Image{Link: "https://api.telegram.org/file/bot/x.jpg", Caption: "monto 80.50"})
	require.Equal(t, OutcomeUploaded, res.Outcome)
	assert.Contains(t, res.Reply, "Datos procesados del mensaje")
	assert.Contains(t, res.Reply, format.Money(80.5))

	msgs := f.messages(t, "telegram", "777")
	require.Len(t, msgs, 1)
	assert.Equal(t, "[IMAGE] monto 80.50", msgs[0].Body)
}

func TestProcessFailures(t *testing.T) {
	cases := []struct {
		name    string
		auth    bool
		img     Image
		setup   func(f *fixture)
		reply   string
		outcome string
	}{
		{name: "unauthenticated", img: Image{Link: "https://x"}, reply: format.ImageAuthRequired, outcome: OutcomeUnauthenticated},
		{name: "missing link", auth: true, reply: format.ImageLinkMissing, outcome: OutcomeMissingLink},
		{
			name: "resolve error", auth: true,
			img:   Image{Resolve: func(context.Context) (string, error) { return "", errors.New("getFile failed") }},
			reply: format.ImageDownloadFail, outcome: OutcomeDownloadFailed,
		},
		{
			name: "download error", auth: true, img: Image{Link: "https://x"},
			setup: func(f *fixture) { f.fetcher.err = ErrDownload },
			reply: format.ImageDownloadFail, outcome: OutcomeDownloadFailed,
		},
		{
			name: "not an image", auth: true, img: Image{Link: "https://x"},
			setup: func(f *fixture) { f.fetcher.data = []byte(strings.Repeat("<html>", 40)) },
			reply: format.ImageInvalid, outcome: OutcomeInvalid,
		},
		{
			name: "upload error", auth: true, img: Image{Link: "https://x"},
			setup: func(f *fixture) { f.uploader.err = errors.New("503") },
			reply: format.ReceiptUploadFail, outcome: OutcomeUploadFailed,
		},
		{
			name: "upload without id", auth: true, img: Image{Link: "https://x"},
			setup: func(f *fixture) { f.uploader.receipt = &partners.Receipt{} },
			reply: format.ReceiptUploadFail, outcome: OutcomeUploadFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.auth {
				f.authenticate(t, "whatsapp", "51900000000")
			}
			if tc.setup != nil {
				tc.setup(f)
			}
			res := f.proc.Process(context.Background(), "whatsapp", "51900000000", tc.img)
			assert.Equal(t, tc.reply, res.Reply)
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Empty(t, f.notifier.events)
			assert.Empty(t, f.messages(t, "whatsapp", "51900000000"))
		})
	}
}

func TestProcessArchiveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t, "whatsapp", "51987654321")
	f.archiver.err = errors.New("s3 down")

	res := f.proc.Process(context.Background(), "whatsapp", "51987654321", Image{
		Resolve: func(context.Context) (string, error) { return "https://resolved.example/a.png", nil },
	})
	assert.Equal(t, OutcomeUploaded, res.Outcome)
	assert.Equal(t, []string{"https://resolved.example/a.png"}, f.fetcher.links)
}

func TestProcessWithoutExtractorFallsBack(t *testing.T) {
	f := newFixture(t)
	f.authenticate(t, "whatsapp", "51987654321")
	f.proc.extractor = nil
	f.uploader.receipt = &partners.Receipt{ID: "3"}

	res := f.proc.Process(context.Background(), "whatsapp", "51987654321", Image{Link: "https://x", Caption: "fecha 2025-03-01"})
	require.Equal(t, OutcomeUploaded, res.Outcome)
	up := f.uploader.uploads[0]
	assert.Equal(t, assistant.DefaultReceiptAmount, up.Amount)
	assert.Equal(t, "2025-03-01", up.PaymentDate)
}

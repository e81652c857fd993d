// Package receipts turns a payment receipt photo sent on any channel into an
// uploaded receipt in the ticketing system.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

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

var tracer = otel.Tracer("coop.internal.receipts")

// Outcome labels reported to metrics.
const (
	OutcomeUploaded        = "uploaded"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeMissingLink     = "missing_link"
	OutcomeDownloadFailed  = "download_failed"
	OutcomeInvalid         = "invalid"
	OutcomeUploadFailed    = "upload_failed"
	OutcomeError           = "error"
)

// Conversations is the slice of conversation.Engine used for receipts.
type Conversations interface {
	Do(ctx context.Context, key conversation.Key, fn func(ctx context.Context, c *conversation.Conversation) error) error
	Record(ctx context.Context, conversationID int64, role conversation.Role, body string, it intent.Type, metadata map[string]string) error
}

type Uploader interface {
	UploadReceipt(ctx context.Context, upload partners.ReceiptUpload) (*partners.Receipt, error)
}

type Extractor interface {
	ExtractReceiptFields(ctx context.Context, caption string, image []byte, mimeType string) assistant.ReceiptFields
}

type Archiver interface {
	ArchiveReceipt(ctx context.Context, record archive.ReceiptRecord, image []byte) (string, error)
}

type Notifier interface {
	ReceiptUploaded(ctx context.Context, evt notify.ReceiptEvent)
}

// Image is an inbound receipt photo. Link may be resolved lazily through
// Resolve, which is only called for authenticated conversations.
type Image struct {
	ID      string
	Link    string
	Resolve func(ctx context.Context) (string, error)
	Caption string
}

// Result is what the channel adapter sends back.
type Result struct {
	Reply          string
	Outcome        string
	ReceiptID      string
	ConversationID int64
}

// Processor runs the receipt intake pipeline.
type Processor struct {
	conversations Conversations
	uploader      Uploader
	extractor     Extractor
	fetcher       Fetcher
	archiver      Archiver
	notifier      Notifier
	metrics       *metrics.AgentMetrics
	logger        *logging.Logger
	now           func() time.Time
	newID         func() string
}

type Option func(*Processor)

func WithFetcher(f Fetcher) Option {
	return func(p *Processor) {
		if f != nil {
			p.fetcher = f
		}
	}
}

// WithArchiver keeps a raw copy of every uploaded image. Archive failures
// never fail the upload.
func WithArchiver(a Archiver) Option {
	return func(p *Processor) { p.archiver = a }
}

func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithMetrics(m *metrics.AgentMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProcessor(conversations Conversations, uploader Uploader, extractor Extractor, logger *logging.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		conversations: conversations,
		uploader:      uploader,
		extractor:     extractor,
		fetcher:       NewHTTPFetcher(nil, nil),
		logger:        logger,
		now:           time.Now,
		newID:         func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one receipt image for the conversation on channel/address.
// It never returns an error: every failure maps to a reply for the user.
func (p *Processor) Process(ctx context.Context, channel, address string, img Image) (res Result) {
	ctx, span := tracer.Start(ctx, "receipts.process")
	defer span.End()
	span.SetAttributes(attribute.String("channel", channel))

	key := conversation.Key{Channel: channel, Address: address}
	logger := p.logger.With("channel", channel, "image_id", img.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("receipt processing panicked", "panic", fmt.Sprint(r))
			res = Result{Reply: format.ProcessingError, Outcome: OutcomeError}
		}
		p.metrics.ObserveReceipt(res.Outcome)
	}()

	err := p.conversations.Do(ctx, key, func(ctx context.Context, c *conversation.Conversation) error {
		res = p.process(ctx, c, img, logger)
		res.ConversationID = c.ID
		return nil
	})
	if err != nil {
		span.RecordError(err)
		logger.Error("receipt processing failed", "error", err)
		return Result{Reply: format.ProcessingError, Outcome: OutcomeError}
	}
	return res
}

func (p *Processor) process(ctx context.Context, c *conversation.Conversation, img Image, logger *logging.Logger) Result {
	if !c.Authenticated || c.Partner == nil {
		return Result{Reply: format.ImageAuthRequired, Outcome: OutcomeUnauthenticated}
	}
	partner := c.Partner
	logger = logger.With("partner_id", partner.ID, "conversation_id", c.ID)

	link := strings.TrimSpace(img.Link)
	if link == "" && img.Resolve != nil {
		resolved, err := img.Resolve(ctx)
		if err != nil {
			logger.Warn("image link could not be resolved", "error", err)
			return Result{Reply: format.ImageDownloadFail, Outcome: OutcomeDownloadFailed}
		}
		link = strings.TrimSpace(resolved)
	}
	if link == "" {
		return Result{Reply: format.ImageLinkMissing, Outcome: OutcomeMissingLink}
	}

	data, err := p.fetcher.Fetch(ctx, link)
	if err != nil {
		logger.Warn("image download failed", "error", err)
		return Result{Reply: format.ImageDownloadFail, Outcome: OutcomeDownloadFailed}
	}
	mime, err := ValidateImage(data)
	if err != nil {
		logger.Warn("image rejected", "error", err, "size_bytes", len(data))
		return Result{Reply: format.ImageInvalid, Outcome: OutcomeInvalid}
	}

	fields := p.extract(ctx, img.Caption, data, mime)
	filename := fmt.Sprintf("receipt_%d_%s_%s.%s", partner.ID, sanitize(c.Address), p.newID(), Extension(mime))
	notes := assistant.BuildReceiptNotes(img.Caption, fields, c.Channel)

	receipt, err := p.uploader.UploadReceipt(ctx, partners.ReceiptUpload{
		PartnerID:   partner.ID,
		File:        data,
		Filename:    filename,
		Amount:      fields.Amount,
		PaymentDate: fields.Date,
		Notes:       notes,
	})
	if err != nil || receipt == nil || receipt.ID.String() == "" {
		if err == nil {
			err = errors.New("empty receipt id")
		}
		logger.Error("receipt upload failed", "error", fmt.Errorf("%w: %v", ErrUpload, err))
		return Result{Reply: format.ReceiptUploadFail, Outcome: OutcomeUploadFailed}
	}
	receiptID := receipt.ID.String()
	logger.Info("receipt uploaded", "receipt_id", receiptID, "method", fields.Method, "amount", fields.Amount)

	amount := fields.Amount
	if v := receipt.Amount.Float(); v > 0 {
		amount = v
	}
	date := fields.Date
	if receipt.PaymentDate != "" {
		date = receipt.PaymentDate
	}

	p.archive(ctx, c, receiptID, filename, mime, img.Caption, fields, data, logger)

	body := "[IMAGE]"
	if caption := strings.TrimSpace(img.Caption); caption != "" {
		body += " " + caption
	}
	meta := map[string]string{
		"receipt_id": receiptID,
		"filename":   filename,
		"image_link": link,
		"method":     fields.Method,
	}
	if img.ID != "" {
		meta["image_id"] = img.ID
	}
	if err := p.conversations.Record(ctx, c.ID, conversation.RoleUser, body, intent.UploadReceipt, meta); err != nil {
		logger.Warn("failed to persist receipt message", "error", err)
	}

	if p.notifier != nil {
		p.notifier.ReceiptUploaded(ctx, notify.ReceiptEvent{
			ReceiptID:   receiptID,
			PartnerName: partner.DisplayName(),
			PartnerDoc:  partner.DocumentNumber,
			Channel:     c.Channel,
			Address:     c.Address,
			Amount:      amount,
			PaymentDate: date,
			Method:      fields.Method,
			Confidence:  fields.Confidence,
			OccurredAt:  p.now(),
		})
	}

	reply := format.ReceiptConfirmation{
		ReceiptID:   receiptID,
		Amount:      amount,
		PaymentDate: date,
		Echo:        fields.AmountFromCaption,
	}.String()
	return Result{Reply: reply, Outcome: OutcomeUploaded, ReceiptID: receiptID}
}

// extract falls back to the default amount and today's date when no
// extractor is wired.
func (p *Processor) extract(ctx context.Context, caption string, data []byte, mime string) assistant.ReceiptFields {
	if p.extractor != nil {
		return p.extractor.ExtractReceiptFields(ctx, caption, data, mime)
	}
	fields := assistant.ReceiptFields{
		Amount: assistant.DefaultReceiptAmount,
		Date:   p.now().Format("2006-01-02"),
		Method: assistant.MethodFallbackError,
		Notes:  "IA no disponible",
	}
	if v, ok := assistant.CaptionAmount(caption); ok {
		fields.Amount, fields.AmountFromCaption, fields.Method = v, true, assistant.MethodCaption
	}
	if d, ok := assistant.CaptionDate(caption); ok {
		fields.Date = d
	}
	return fields
}

func (p *Processor) archive(ctx context.Context, c *conversation.Conversation, receiptID, filename, mime, caption string, fields assistant.ReceiptFields, data []byte, logger *logging.Logger) {
	if p.archiver == nil {
		return
	}
	_, err := p.archiver.ArchiveReceipt(ctx, archive.ReceiptRecord{
		ReceiptID:   receiptID,
		PartnerID:   c.Partner.ID,
		DocHash:     archive.Hash(c.Partner.DocumentNumber),
		Channel:     c.Channel,
		AddressHash: archive.Hash(c.Address),
		Filename:    filename,
		ContentType: mime,
		SizeBytes:   len(data),
		Amount:      fields.Amount,
		PaymentDate: fields.Date,
		Method:      fields.Method,
		Confidence:  fields.Confidence,
		Caption:     caption,
	}, data)
	if err != nil {
		logger.Warn("receipt archive failed", "receipt_id", receiptID, "error", err)
	}
}

func sanitize(address string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			return r
		}
		return -1
	}, address)
}

// Package partners is the HTTP client for the cooperative's partner
// directory and ticketing/receipt API.
package partners

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultUploadTimeout = 30 * time.Second
	defaultTicketPrio    = 2
	maxErrorBody         = 8192
)

var (
	// ErrNotFound is returned when the partner or credit does not exist.
	ErrNotFound = errors.New("partners: not found")
	// ErrEmptyResponse is returned when the API answers with an empty document.
	ErrEmptyResponse = errors.New("partners: empty response")
)

var partnersTracer = otel.Tracer("coop.internal.partners")

// Client talks to the partner API with a bearer token.
type Client struct {
	baseURL       string
	token         string
	httpClient    *http.Client
	uploadTimeout time.Duration
	logger        *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (its timeout bounds JSON calls).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the timeout for JSON calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUploadTimeout sets the timeout for receipt uploads.
func WithUploadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.uploadTimeout = d
		}
	}
}

// NewClient creates a partner API client.
func NewClient(baseURL, token string, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		uploadTimeout: defaultUploadTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate looks the partner up by document number and checks the birth
// year. A missing partner and a year mismatch both return ErrNotFound.
func (c *Client) Authenticate(ctx context.Context, documentNumber, birthYear string) (*Partner, error) {
	ctx, span := partnersTracer.Start(ctx, "partners.authenticate")
	defer span.End()

	var partner Partner
	path := "/api/v1/partners/partners/" + url.PathEscape(documentNumber) + "/"
	if err := c.getJSON(ctx, path, nil, &partner); err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lookup failed")
		}
		return nil, err
	}
	if partner.BirthYear() != strings.TrimSpace(birthYear) {
		c.logger.Warn("partner birth year mismatch", "partner_id", partner.ID)
		return nil, ErrNotFound
	}
	span.SetAttributes(attribute.Int64("partner.id", partner.ID))
	return &partner, nil
}

// AccountStatement fetches the partner's account statement.
func (c *Client) AccountStatement(ctx context.Context, partnerID int64) (*Statement, error) {
	ctx, span := partnersTracer.Start(ctx, "partners.account_statement")
	defer span.End()
	span.SetAttributes(attribute.Int64("partner.id", partnerID))

	var out Statement
	path := fmt.Sprintf("/api/v1/partners/partners/%d/account-statement/", partnerID)
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("partners: fetch statement: %w", err)
	}
	return &out, nil
}

// Credits lists the partner's credits, optionally filtered by status.
func (c *Client) Credits(ctx context.Context, partnerID int64, status string) (*CreditList, error) {
	ctx, span := partnersTracer.Start(ctx, "partners.credits")
	defer span.End()
	span.SetAttributes(attribute.Int64("partner.id", partnerID))

	query := url.Values{}
	if status = strings.TrimSpace(status); status != "" {
		query.Set("status", status)
	}
	var out CreditList
	path := fmt.Sprintf("/api/v1/partners/partners/%d/credits/", partnerID)
	if err := c.getJSON(ctx, path, query, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("partners: fetch credits: %w", err)
	}
	return &out, nil
}

// CreditDetail fetches one credit with its installment summary.
func (c *Client) CreditDetail(ctx context.Context, partnerID, creditID int64) (*CreditDetail, error) {
	ctx, span := partnersTracer.Start(ctx, "partners.credit_detail")
	defer span.End()
	span.SetAttributes(attribute.Int64("partner.id", partnerID), attribute.Int64("credit.id", creditID))

	var out CreditDetail
	path := fmt.Sprintf("/api/v1/partners/partners/%d/credits/%d/", partnerID, creditID)
	if err := c.getJSON(ctx, path, nil, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("partners: fetch credit %d: %w", creditID, err)
	}
	if out.Credit.ID == 0 {
		return nil, fmt.Errorf("partners: fetch credit %d: %w", creditID, ErrEmptyResponse)
	}
	return &out, nil
}

// CreateTicket opens a support ticket.
func (c *Client) CreateTicket(ctx context.Context, req TicketRequest) (*Ticket, error) {
	ctx, span := partnersTracer.Start(ctx, "partners.create_ticket")
	defer span.End()

	if req.Priority == 0 {
		req.Priority = defaultTicketPrio
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("partners: marshal ticket: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/v1/support/tickets/", nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var ticket Ticket
	if err := c.do(c.httpClient, httpReq, &ticket); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create ticket failed")
		return nil, fmt.Errorf("partners: create ticket: %w", err)
	}
	if ticket.ID == "" {
		return nil, fmt.Errorf("partners: create ticket: %w", ErrEmptyResponse)
	}
	c.logger.Info("support ticket created", "ticket_id", ticket.ID)
	return &ticket, nil
}

// UploadReceipt posts a receipt image as multipart form data.
func (c *Client) UploadReceipt(ctx context.Context, upload ReceiptUpload) (*Receipt, error) {
	ctx, span := partnersTracer.Start(ctx, "partners.upload_receipt")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("partner.id", upload.PartnerID),
		attribute.Int("receipt.bytes", len(upload.File)),
	)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("receipt_file", upload.Filename)
	if err != nil {
		return nil, fmt.Errorf("partners: build upload: %w", err)
	}
	if _, err := part.Write(upload.File); err != nil {
		return nil, fmt.Errorf("partners: build upload: %w", err)
	}
	fields := map[string]string{
		"partner":      strconv.FormatInt(upload.PartnerID, 10),
		"amount":       strconv.FormatFloat(upload.Amount, 'f', 2, 64),
		"payment_date": upload.PaymentDate,
		"notes":        upload.Notes,
	}
	for _, key := range []string{"partner", "amount", "payment_date", "notes"} {
		if err := w.WriteField(key, fields[key]); err != nil {
			return nil, fmt.Errorf("partners: build upload: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("partners: build upload: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/payments/api/receipts/", nil, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	uploader := *c.httpClient
	uploader.Timeout = c.uploadTimeout

	var receipt Receipt
	if err := c.do(&uploader, httpReq, &receipt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return nil, fmt.Errorf("partners: upload receipt: %w", err)
	}
	if receipt.ID == "" {
		return nil, fmt.Errorf("partners: upload receipt: %w", ErrEmptyResponse)
	}
	return &receipt, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(c.httpClient, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("partners: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null")) {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

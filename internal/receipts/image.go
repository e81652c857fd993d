package receipts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Size bounds for a receipt image.
const (
	MinImageBytes = 100
	MaxImageBytes = 10 << 20
)

// DownloadTimeout bounds one image download.
const DownloadTimeout = 30 * time.Second

var (
	ErrMissingLink = errors.New("receipts: image link missing")
	ErrDownload    = errors.New("receipts: image download failed")
	ErrInvalid     = errors.New("receipts: invalid image")
	ErrUpload      = errors.New("receipts: upload failed")
)

// Fetcher retrieves the bytes behind an image link.
type Fetcher interface {
	Fetch(ctx context.Context, link string) ([]byte, error)
}

// HTTPFetcher downloads images over HTTP with a size cap.
type HTTPFetcher struct {
	client      *http.Client
	headers     map[string]string
	hostHeaders map[string]map[string]string
}

// NewHTTPFetcher returns a fetcher. headers are sent on every request, e.g.
// the WHAPI bearer token for media links that require it.
func NewHTTPFetcher(client *http.Client, headers map[string]string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: DownloadTimeout}
	}
	return &HTTPFetcher{client: client, headers: headers, hostHeaders: make(map[string]map[string]string)}
}

// WithHostHeaders adds headers sent only to links on host, e.g. the Meta
// bearer token for lookaside.fbsbx.com media URLs.
func (f *HTTPFetcher) WithHostHeaders(host string, headers map[string]string) *HTTPFetcher {
	f.hostHeaders[strings.ToLower(host)] = headers
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, link string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	for k, v := range f.hostHeaders[strings.ToLower(req.URL.Hostname())] {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrDownload, MaxImageBytes)
	}
	return data, nil
}

// ValidateImage checks the size bounds and sniffs the content type. It
// returns the detected MIME type.
func ValidateImage(data []byte) (string, error) {
	switch {
	case len(data) < MinImageBytes:
		return "", fmt.Errorf("%w: %d bytes", ErrInvalid, len(data))
	case len(data) > MaxImageBytes:
		return "", fmt.Errorf("%w: %d bytes", ErrInvalid, len(data))
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%w: content type %s", ErrInvalid, mime)
	}
	return mime, nil
}

// Extension maps a sniffed MIME type to a file extension.
func Extension(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	default:
		return "jpg"
	}
}

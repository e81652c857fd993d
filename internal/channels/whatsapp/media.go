package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v18.0"
	defaultHTTPTimeout  = 10 * time.Second
)

// MediaClient resolves Meta Cloud API media ids into download URLs.
type MediaClient struct {
	accessToken  string
	graphAPIBase string
	httpClient   *http.Client
}

// MediaInfo is the Graph API answer for GET /{media-id}.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	Error    *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func NewMediaClient(accessToken, graphAPIBase string, httpClient *http.Client) *MediaClient {
	if graphAPIBase == "" {
		graphAPIBase = defaultGraphAPIBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &MediaClient{
		accessToken:  accessToken,
		graphAPIBase: strings.TrimRight(graphAPIBase, "/"),
		httpClient:   httpClient,
	}
}

// FileURL returns the short-lived download URL of a media id. Downloading
// it requires the same bearer token.
func (c *MediaClient) FileURL(ctx context.Context, mediaID string) (string, error) {
	info, err := c.Lookup(ctx, mediaID)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (c *MediaClient) Lookup(ctx context.Context, mediaID string) (*MediaInfo, error) {
	if c.accessToken == "" {
		return nil, fmt.Errorf("whatsapp: meta access token not configured")
	}
	if mediaID == "" {
		return nil, fmt.Errorf("whatsapp: media id required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphAPIBase+"/"+mediaID, nil)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: lookup media: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read media response: %w", err)
	}
	var info MediaInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("whatsapp: unmarshal media response: %w", err)
	}
	if info.Error != nil {
		return nil, fmt.Errorf("whatsapp: API error %d: %s", info.Error.Code, info.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if info.URL == "" {
		return nil, fmt.Errorf("whatsapp: media %s has no url", mediaID)
	}
	return &info, nil
}

// AuthHeaders are the headers a receipt fetcher must send to download Meta
// media URLs.
func (c *MediaClient) AuthHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.accessToken}
}

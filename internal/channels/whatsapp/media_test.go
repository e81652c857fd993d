package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaClientFileURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer meta-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad token","code":190}}`))
			return
		}
		switch r.URL.Path {
		case "/media-9":
			_, _ = w.Write([]byte(`{"id":"media-9","url":"https://lookaside.fbsbx.com/whatsapp/media-9","mime_type":"image/jpeg","file_size":2048}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewMediaClient("meta-token", srv.URL, srv.Client())
	url, err := c.FileURL(context.Background(), "media-9")
	require.NoError(t, err)
	assert.Equal(t, "https://lookaside.fbsbx.com/whatsapp/media-9", url)
	assert.Equal(t, "Bearer meta-token", c.AuthHeaders()["Authorization"])

	_, err = c.FileURL(context.Background(), "missing")
	assert.Error(t, err)

	_, err = NewMediaClient("wrong", srv.URL, srv.Client()).FileURL(context.Background(), "media-9")
	assert.ErrorContains(t, err, "190")

	_, err = NewMediaClient("", srv.URL, nil).FileURL(context.Background(), "media-9")
	assert.Error(t, err)
}

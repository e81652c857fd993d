package receipts

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(size int) []byte {
	data := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, size)...)
	return data[:size]
}

func TestValidateImage(t *testing.T) {
	mime, err := ValidateImage(pngBytes(200))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "png", Extension(mime))

	_, err = ValidateImage(pngBytes(99))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = ValidateImage(bytes.Repeat([]byte("a"), 500))
	assert.ErrorIs(t, err, ErrInvalid, "text is not an image")

	_, err = ValidateImage(pngBytes(MaxImageBytes + 1))
	assert.ErrorIs(t, err, ErrInvalid)

	assert.Equal(t, "jpg", Extension("image/jpeg"))
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write(pngBytes(300))
		case "/big":
			_, _ = w.Write(pngBytes(MaxImageBytes + 10))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), map[string]string{"Authorization": "Bearer tok"})
	data, err := f.Fetch(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Len(t, data, 300)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.True(t, errors.Is(err, ErrDownload), "got %v", err)

	_, err = f.Fetch(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, ErrDownload)

	_, err = f.Fetch(context.Background(), "://bad")
	assert.ErrorIs(t, err, ErrDownload)
}

func TestHTTPFetcherHostHeaders(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		_, _ = w.Write(pngBytes(200))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client(), nil).WithHostHeaders("127.0.0.1", map[string]string{"Authorization": "Bearer meta"})
	_, err := f.Fetch(context.Background(), srv.URL+"/media")
	require.NoError(t, err)

	other := NewHTTPFetcher(srv.Client(), nil).WithHostHeaders("lookaside.fbsbx.com", map[string]string{"Authorization": "Bearer meta"})
	_, err = other.Fetch(context.Background(), srv.URL+"/media")
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer meta", ""}, got)
}

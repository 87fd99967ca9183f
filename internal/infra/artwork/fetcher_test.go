package artwork

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	return f
}

func TestResolve_Download(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	f := newFetcher(t)
	ctx := context.Background()
	path, err := f.Resolve(ctx, server.URL+"/image/ab67")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	again, err := f.Resolve(ctx, server.URL+"/image/ab67")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(1), hits.Load())

	// A new fetcher on the same directory reuses the file
	reopened, err := New(Config{Dir: f.dir})
	require.NoError(t, err)
	_, err = reopened.Resolve(ctx, server.URL+"/image/ab67")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolve_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/missing"):
			http.NotFound(w, r)
		case strings.HasSuffix(r.URL.Path, "/html"):
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		}
	}))
	defer server.Close()

	f := newFetcher(t)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
	}{
		{"not found", server.URL + "/missing"},
		{"not an image", server.URL + "/html"},
		{"unsupported scheme", "data:image/png;base64,AAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Resolve(ctx, tt.url)
			assert.Error(t, err)
		})
	}

	_, err := f.Resolve(ctx, "data:image/png;base64,AAAA")
	assert.ErrorIs(t, err, ErrUnsupported)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed downloads leave no files")
}

func TestResolve_FileURL(t *testing.T) {
	f := newFetcher(t)
	path, err := f.Resolve(context.Background(), "file:///home/me/.cache/cover.png")
	require.NoError(t, err)
	assert.Equal(t, "/home/me/.cache/cover.png", path)
}

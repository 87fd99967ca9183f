// Package artwork resolves album art URLs to local files.
package artwork

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const (
	// MaxSize is the largest art download accepted.
	MaxSize = 8 << 20

	appName = "musicisland"
	subDir  = "art"
)

// ErrUnsupported is returned for URL schemes other than file, http and https.
var ErrUnsupported = errors.New("unsupported art URL")

// Config represents fetcher configuration.
type Config struct {
	Dir     string        // Cache directory, empty uses the XDG cache directory
	Timeout time.Duration // Per-download timeout, zero uses 10s
}

// Fetcher downloads remote album art once and serves the cached file.
type Fetcher struct {
	dir        string
	httpClient *http.Client

	// Resolved URL to local path
	cache   map[string]string
	cacheMu sync.RWMutex
}

// New creates a new fetcher.
func New(cfg Config) (*Fetcher, error) {
	dir := cfg.Dir
	if dir == "" {
		path, err := xdg.CacheFile(filepath.Join(appName, subDir, ".keep"))
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve cache directory")
		}
		dir = filepath.Dir(path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dir)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		dir:        dir,
		httpClient: &http.Client{Timeout: timeout},
		cache:      make(map[string]string),
	}, nil
}

// Resolve returns a local file path for the art URL.
// File URLs are returned as is; http(s) URLs are downloaded into the cache.
func (f *Fetcher) Resolve(ctx context.Context, artURL string) (string, error) {
	u, err := url.Parse(artURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid art URL %q", artURL)
	}
	switch u.Scheme {
	case "file":
		return u.Path, nil
	case "http", "https":
	default:
		return "", errors.Wrapf(ErrUnsupported, "%q", artURL)
	}

	f.cacheMu.RLock()
	if path, ok := f.cache[artURL]; ok {
		f.cacheMu.RUnlock()
		return path, nil
	}
	f.cacheMu.RUnlock()

	path := filepath.Join(f.dir, cacheKey(artURL))
	if _, err := os.Stat(path); err == nil {
		f.remember(artURL, path)
		return path, nil
	}

	if err := f.download(ctx, artURL, path); err != nil {
		return "", err
	}
	f.remember(artURL, path)
	zlog.Debug().Msgf("artwork: cached: url=%s path=%s", artURL, path)
	return path, nil
}

func (f *Fetcher) remember(artURL, path string) {
	f.cacheMu.Lock()
	f.cache[artURL] = path
	f.cacheMu.Unlock()
}

func (f *Fetcher) download(ctx context.Context, artURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("art download failed: status=%d url=%s", resp.StatusCode, artURL)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return errors.Newf("art download is not an image: content_type=%s url=%s", ct, artURL)
	}

	tmp, err := os.CreateTemp(f.dir, "download-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, MaxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}
	if n > MaxSize {
		return errors.Newf("art download exceeds %d bytes: url=%s", MaxSize, artURL)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "failed to store art")
	}
	return nil
}

func cacheKey(artURL string) string {
	sum := sha1.Sum([]byte(artURL))
	return hex.EncodeToString(sum[:])
}

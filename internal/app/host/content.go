package host

import (
	"context"
	"net/url"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/media"
	"github.com/osa030/musicisland/internal/app/palette"
	"github.com/osa030/musicisland/internal/app/settings"
	"github.com/osa030/musicisland/internal/domain/frame"
)

// artResolveTimeout bounds a remote art download.
const artResolveTimeout = 5 * time.Second

// ArtLoader extracts colours from a local album art file.
type ArtLoader func(path string) (palette.Colors, error)

// ArtResolver maps a remote art URL to a local file.
type ArtResolver func(ctx context.Context, artURL string) (string, error)

// paletteCache remembers the colours of the last album art.
type paletteCache struct {
	load    ArtLoader
	resolve ArtResolver
	artURL  string
	path    string
	colors  palette.Colors
	valid   bool
}

func newPaletteCache(load ArtLoader, resolve ArtResolver) *paletteCache {
	if load == nil {
		load = palette.ExtractFile
	}
	return &paletteCache{load: load, resolve: resolve}
}

// colorsFor returns the colours and local art path for the URL, extracting
// them on change. Remote art is fetched only when a resolver is set.
func (c *paletteCache) colorsFor(ctx context.Context, artURL, artPath string) (palette.Colors, string) {
	if c.valid && c.artURL == artURL {
		return c.colors, c.path
	}
	c.artURL = artURL
	c.valid = true

	if artPath == "" && artURL != "" && c.resolve != nil {
		rctx, cancel := context.WithTimeout(ctx, artResolveTimeout)
		path, err := c.resolve(rctx, artURL)
		cancel()
		if err != nil {
			zlog.Debug().Err(err).Msgf("host: album art not fetched: url=%s", artURL)
		}
		artPath = path
	}
	c.path = artPath

	if artPath == "" {
		c.colors = palette.Fallback()
		return c.colors, ""
	}
	colors, err := c.load(artPath)
	if err != nil {
		zlog.Debug().Err(err).Msgf("host: album art unreadable, using fallback colours: path=%s", artPath)
		colors = palette.Fallback()
	}
	c.colors = colors
	return c.colors, c.path
}

// buildContent assembles what the overlay displays. A resolved local art
// file replaces the remote art URL.
func buildContent(snap media.Snapshot, s settings.Settings, colors palette.Colors, artPath string) frame.Content {
	bg, on, accent := colors.Hex()
	track := snap.Track
	if artPath != "" {
		track.ArtURL = (&url.URL{Scheme: "file", Path: artPath}).String()
	}
	return frame.Content{
		Player:       snap.Player,
		Phase:        snap.Phase,
		Track:        track,
		Position:     snap.Position,
		Background:   bg,
		OnBackground: on,
		Accent:       accent,
		Wave:         s.Wave.String(),
	}
}

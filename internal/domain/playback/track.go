package playback

import (
	"net/url"
	"strings"
	"time"
)

// Track represents the metadata of the item the target player is playing.
type Track struct {
	ID       string        // Player specific track identifier
	Title    string        // Track title
	Artists  []string      // Artist names
	Album    string        // Album name
	ArtURL   string        // Album art URL (file:// or http(s)://)
	Duration time.Duration // Track length, zero if unknown
}

// IsZero returns true if no metadata is known.
func (t Track) IsZero() bool {
	return t.ID == "" && t.Title == "" && len(t.Artists) == 0 && t.Album == ""
}

// ArtistLine joins the artist names for display.
func (t Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// ArtPath returns the local file path of the album art, or an empty string
// when the art URL is not a file URL.
func (t Track) ArtPath() string {
	if t.ArtURL == "" {
		return ""
	}
	u, err := url.Parse(t.ArtURL)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return u.Path
}

// Position is a snapshot of the playback position.
type Position struct {
	Elapsed   time.Duration // Position at SampledAt
	Rate      float64       // Playback rate, 1.0 is normal speed
	SampledAt time.Time     // When the position was read
}

// At extrapolates the position to the given time while playing.
// A paused position does not advance; pass playing=false for it.
func (p Position) At(now time.Time, playing bool) time.Duration {
	if !playing || p.SampledAt.IsZero() || now.Before(p.SampledAt) {
		return p.Elapsed
	}
	rate := p.Rate
	if rate <= 0 {
		rate = 1
	}
	return p.Elapsed + time.Duration(float64(now.Sub(p.SampledAt))*rate)
}

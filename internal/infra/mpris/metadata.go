// Package mpris observes MPRIS media players on the D-Bus session bus.
package mpris

import (
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/osa030/musicisland/internal/domain/playback"
)

const (
	BusPrefix       = "org.mpris.MediaPlayer2."
	ObjectPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	RootInterface   = "org.mpris.MediaPlayer2"
	PlayerInterface = "org.mpris.MediaPlayer2.Player"

	propertiesInterface = "org.freedesktop.DBus.Properties"
	busInterface        = "org.freedesktop.DBus"
)

// PlayerName returns the player part of an MPRIS bus name, e.g. "spotify"
// for "org.mpris.MediaPlayer2.spotify". ok is false for other names.
func PlayerName(busName string) (name string, ok bool) {
	if !strings.HasPrefix(busName, BusPrefix) {
		return "", false
	}
	name = strings.TrimPrefix(busName, BusPrefix)
	return name, name != ""
}

// ParseStatus maps an MPRIS PlaybackStatus value to a phase.
func ParseStatus(status string) playback.Phase {
	return playback.ParsePhase(status)
}

// ParseMetadata converts an MPRIS Metadata map into a track.
func ParseMetadata(md map[string]dbus.Variant) playback.Track {
	return playback.Track{
		ID:       stringValue(md, "mpris:trackid"),
		Title:    stringValue(md, "xesam:title"),
		Artists:  stringsValue(md, "xesam:artist"),
		Album:    stringValue(md, "xesam:album"),
		ArtURL:   stringValue(md, "mpris:artUrl"),
		Duration: microseconds(md, "mpris:length"),
	}
}

func stringValue(md map[string]dbus.Variant, key string) string {
	v, ok := md[key]
	if !ok {
		return ""
	}
	switch typed := v.Value().(type) {
	case string:
		return typed
	case dbus.ObjectPath:
		return string(typed)
	default:
		return ""
	}
}

func stringsValue(md map[string]dbus.Variant, key string) []string {
	v, ok := md[key]
	if !ok {
		return nil
	}
	switch typed := v.Value().(type) {
	case []string:
		out := make([]string, 0, len(typed))
		for _, s := range typed {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if typed == "" {
			return nil
		}
		return []string{typed}
	default:
		return nil
	}
}

func microseconds(md map[string]dbus.Variant, key string) time.Duration {
	v, ok := md[key]
	if !ok {
		return 0
	}
	return durationValue(v.Value())
}

// durationValue converts an MPRIS microsecond value. Players disagree on
// the integer type.
func durationValue(raw any) time.Duration {
	var us int64
	switch typed := raw.(type) {
	case int64:
		us = typed
	case uint64:
		us = int64(typed)
	case int32:
		us = int64(typed)
	case uint32:
		us = int64(typed)
	case float64:
		us = int64(typed)
	default:
		return 0
	}
	if us <= 0 {
		return 0
	}
	return time.Duration(us) * time.Microsecond
}

// playerState is the cached Player interface state of one session.
type playerState struct {
	phase    playback.Phase
	track    playback.Track
	position playback.Position
}

// changes reports which parts of a playerState an update touched.
type changes struct {
	phase    bool
	track    bool
	position bool
}

// apply merges changed Player properties sampled at now.
func (s *playerState) apply(changed map[string]dbus.Variant, now time.Time) changes {
	var c changes
	if v, ok := changed["PlaybackStatus"]; ok {
		if status, ok := v.Value().(string); ok {
			phase := ParseStatus(status)
			if phase != s.phase {
				// Freeze or restart extrapolation at the transition.
				s.position.Elapsed = s.position.At(now, s.phase.IsPlaying())
				s.position.SampledAt = now
				s.phase = phase
				c.phase = true
			}
		}
	}
	if v, ok := changed["Metadata"]; ok {
		if md, ok := v.Value().(map[string]dbus.Variant); ok {
			track := ParseMetadata(md)
			if !sameTrack(track, s.track) {
				if track.ID != s.track.ID {
					s.position = playback.Position{Rate: s.position.Rate, SampledAt: now}
					c.position = true
				}
				s.track = track
				c.track = true
			}
		}
	}
	if v, ok := changed["Rate"]; ok {
		if rate, ok := v.Value().(float64); ok && rate != s.position.Rate {
			s.position.Elapsed = s.position.At(now, s.phase.IsPlaying())
			s.position.SampledAt = now
			s.position.Rate = rate
			c.position = true
		}
	}
	if v, ok := changed["Position"]; ok {
		s.seek(durationValue(v.Value()), now)
		c.position = true
	}
	return c
}

// seek records an absolute position reported by the player.
func (s *playerState) seek(elapsed time.Duration, now time.Time) {
	s.position.Elapsed = elapsed
	s.position.SampledAt = now
}

func sameTrack(a, b playback.Track) bool {
	if a.ID != b.ID || a.Title != b.Title || a.Album != b.Album || a.ArtURL != b.ArtURL || a.Duration != b.Duration {
		return false
	}
	if len(a.Artists) != len(b.Artists) {
		return false
	}
	for i := range a.Artists {
		if a.Artists[i] != b.Artists[i] {
			return false
		}
	}
	return true
}

// Package islandv1 defines the island control API.
//
// Messages travel as google.protobuf.Struct values so the service works with
// the standard Connect codecs without generated code.
package islandv1

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "island.v1.IslandService"

	GetStatusProcedure      = "/" + ServiceName + "/GetStatus"
	GestureProcedure        = "/" + ServiceName + "/Gesture"
	TransportProcedure      = "/" + ServiceName + "/Transport"
	UpdateSettingsProcedure = "/" + ServiceName + "/UpdateSettings"
	SubscribeProcedure      = "/" + ServiceName + "/Subscribe"
)

// Transport commands accepted by the Transport procedure.
const (
	CommandPlay     = "play"
	CommandPause    = "pause"
	CommandToggle   = "toggle"
	CommandNext     = "next"
	CommandPrevious = "previous"
	CommandRaise    = "raise"
)

// Status describes the daemon, its current host and the island.
type Status struct {
	Running          bool     `mapstructure:"running"`
	HostID           string   `mapstructure:"host_id"`
	HostPhase        string   `mapstructure:"host_phase"`
	StopReason       string   `mapstructure:"stop_reason"`
	Visibility       string   `mapstructure:"visibility"`
	Enabled          bool     `mapstructure:"enabled"`
	Unlocked         bool     `mapstructure:"unlocked"`
	TargetForeground bool     `mapstructure:"target_foreground"`
	Phase            string   `mapstructure:"phase"`
	Player           string   `mapstructure:"player"`
	Title            string   `mapstructure:"title"`
	Artists          []string `mapstructure:"artists"`
	Album            string   `mapstructure:"album"`
	ElapsedMs        int64    `mapstructure:"elapsed_ms"`
	DurationMs       int64    `mapstructure:"duration_ms"`
	Wave             string   `mapstructure:"wave"`
	PauseDeadline    string   `mapstructure:"pause_deadline"` // RFC 3339, empty when none
	LastHeartbeat    string   `mapstructure:"last_heartbeat"`
	Subscribers      int      `mapstructure:"subscribers"`
	Warnings         []string `mapstructure:"warnings"`
}

// ToStruct encodes the status.
func (s Status) ToStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"running":           s.Running,
		"host_id":           s.HostID,
		"host_phase":        s.HostPhase,
		"stop_reason":       s.StopReason,
		"visibility":        s.Visibility,
		"enabled":           s.Enabled,
		"unlocked":          s.Unlocked,
		"target_foreground": s.TargetForeground,
		"phase":             s.Phase,
		"player":            s.Player,
		"title":             s.Title,
		"artists":           stringList(s.Artists),
		"album":             s.Album,
		"elapsed_ms":        s.ElapsedMs,
		"duration_ms":       s.DurationMs,
		"wave":              s.Wave,
		"pause_deadline":    s.PauseDeadline,
		"last_heartbeat":    s.LastHeartbeat,
		"subscribers":       s.Subscribers,
		"warnings":          stringList(s.Warnings),
	})
}

// StatusFromStruct decodes a status.
func StatusFromStruct(pb *structpb.Struct) (Status, error) {
	var s Status
	err := decode(pb, &s)
	return s, err
}

// SettingsUpdate changes the persisted settings. Nil fields are kept.
type SettingsUpdate struct {
	Enabled *bool   `mapstructure:"enabled"`
	Wave    *string `mapstructure:"wave"`
}

// ToStruct encodes the update.
func (u SettingsUpdate) ToStruct() (*structpb.Struct, error) {
	m := map[string]any{}
	if u.Enabled != nil {
		m["enabled"] = *u.Enabled
	}
	if u.Wave != nil {
		m["wave"] = *u.Wave
	}
	return newStruct(m)
}

// SettingsUpdateFromStruct decodes an update.
func SettingsUpdateFromStruct(pb *structpb.Struct) (SettingsUpdate, error) {
	var u SettingsUpdate
	err := decode(pb, &u)
	return u, err
}

// Frame is one rendering of the island for an external renderer.
type Frame struct {
	Seq          uint64   `mapstructure:"seq"`
	State        string   `mapstructure:"state"` // hidden, pill or expanded
	Player       string   `mapstructure:"player"`
	Phase        string   `mapstructure:"phase"`
	Title        string   `mapstructure:"title"`
	Artists      []string `mapstructure:"artists"`
	Album        string   `mapstructure:"album"`
	ElapsedMs    int64    `mapstructure:"elapsed_ms"`
	DurationMs   int64    `mapstructure:"duration_ms"`
	Background   string   `mapstructure:"background"`
	OnBackground string   `mapstructure:"on_background"`
	Accent       string   `mapstructure:"accent"`
	Wave         string   `mapstructure:"wave"`
	Time         string   `mapstructure:"time"` // RFC 3339 with milliseconds
}

// ToStruct encodes the frame.
func (f Frame) ToStruct() (*structpb.Struct, error) {
	return newStruct(map[string]any{
		"seq":           f.Seq,
		"state":         f.State,
		"player":        f.Player,
		"phase":         f.Phase,
		"title":         f.Title,
		"artists":       stringList(f.Artists),
		"album":         f.Album,
		"elapsed_ms":    f.ElapsedMs,
		"duration_ms":   f.DurationMs,
		"background":    f.Background,
		"on_background": f.OnBackground,
		"accent":        f.Accent,
		"wave":          f.Wave,
		"time":          f.Time,
	})
}

// FrameFromStruct decodes a frame.
func FrameFromStruct(pb *structpb.Struct) (Frame, error) {
	var f Frame
	err := decode(pb, &f)
	return f, err
}

// FormatTime formats a timestamp for a message, empty for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTime parses a timestamp produced by FormatTime.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, errors.Wrapf(err, "invalid time %q", s)
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	pb, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return pb, nil
}

func decode(pb *structpb.Struct, out any) error {
	if pb == nil {
		return nil
	}
	if err := mapstructure.Decode(pb.AsMap(), out); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	return nil
}

// stringList converts to the []any form structpb accepts.
func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

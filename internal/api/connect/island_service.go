package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/musicisland/internal/api/islandv1"
	"github.com/osa030/musicisland/internal/app/host"
	"github.com/osa030/musicisland/internal/app/island"
	"github.com/osa030/musicisland/internal/app/overlay"
	"github.com/osa030/musicisland/internal/app/settings"
	"github.com/osa030/musicisland/internal/domain/frame"
)

// HostStatus reports the most recent host.
type HostStatus interface {
	HostStatus() (host.Status, bool)
}

// Controls drives the running island.
type Controls interface {
	overlay.Requester
	overlay.Transport
	Play()
	Pause()
}

// SettingsStore reads and writes the persisted settings.
type SettingsStore interface {
	Current() settings.Settings
	SetEnabled(enabled bool) error
	SetWave(wave settings.WaveVariant) error
}

// FrameHub fans frames out to subscribers.
type FrameHub interface {
	Subscribe() (string, <-chan frame.Frame)
	Unsubscribe(id string)
	SubscriberCount() int
}

// Deps are the collaborators of the island service.
type Deps struct {
	Hosts    HostStatus
	Controls Controls
	Settings SettingsStore
	Frames   FrameHub
	Clock    clockwork.Clock
	Warnings []string // Capability warnings reported with the status
}

// IslandService implements the island control API.
type IslandService struct {
	deps     Deps
	gestures *overlay.Gestures
	done     <-chan struct{}
}

// NewIslandService creates a new IslandService. Subscriptions end when done
// is closed.
func NewIslandService(deps Deps, done <-chan struct{}) *IslandService {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &IslandService{
		deps:     deps,
		gestures: overlay.NewGestures(deps.Controls, deps.Controls),
		done:     done,
	}
}

// Handler returns the path prefix and HTTP handler serving the service.
func (s *IslandService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(islandv1.GetStatusProcedure, connect.NewUnaryHandler(islandv1.GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(islandv1.GestureProcedure, connect.NewUnaryHandler(islandv1.GestureProcedure, s.Gesture, opts...))
	mux.Handle(islandv1.TransportProcedure, connect.NewUnaryHandler(islandv1.TransportProcedure, s.Transport, opts...))
	mux.Handle(islandv1.UpdateSettingsProcedure, connect.NewUnaryHandler(islandv1.UpdateSettingsProcedure, s.UpdateSettings, opts...))
	mux.Handle(islandv1.SubscribeProcedure, connect.NewServerStreamHandler(islandv1.SubscribeProcedure, s.Subscribe, opts...))
	return "/" + islandv1.ServiceName + "/", mux
}

// GetStatus returns the daemon status.
func (s *IslandService) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.statusResponse()
}

// Gesture applies a gesture to the running island.
func (s *IslandService) Gesture(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[emptypb.Empty], error) {
	g, err := overlay.ParseGesture(req.Msg.GetValue())
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if err := s.requireRunning(); err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("api: gesture: gesture=%s", g)
	s.gestures.Handle(g)
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// Transport sends a transport command to the target player.
func (s *IslandService) Transport(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[emptypb.Empty], error) {
	var send func()
	switch cmd := strings.ToLower(strings.TrimSpace(req.Msg.GetValue())); cmd {
	case islandv1.CommandPlay:
		send = s.deps.Controls.Play
	case islandv1.CommandPause:
		send = s.deps.Controls.Pause
	case islandv1.CommandToggle:
		send = s.deps.Controls.Toggle
	case islandv1.CommandNext:
		send = s.deps.Controls.Next
	case islandv1.CommandPrevious:
		send = s.deps.Controls.Previous
	case islandv1.CommandRaise:
		send = s.deps.Controls.Raise
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.Newf("unknown transport command %q", cmd))
	}
	if err := s.requireRunning(); err != nil {
		return nil, err
	}
	send()
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// UpdateSettings changes the persisted settings and returns the new status.
func (s *IslandService) UpdateSettings(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	update, err := islandv1.SettingsUpdateFromStruct(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	var wave *settings.WaveVariant
	if update.Wave != nil {
		w, ok := lookupWave(*update.Wave)
		if !ok {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.Newf("unknown wave %q", *update.Wave))
		}
		wave = &w
	}

	if update.Enabled != nil {
		if err := s.deps.Settings.SetEnabled(*update.Enabled); err != nil {
			return nil, connect.NewError(connect.CodeUnavailable, err)
		}
	}
	if wave != nil {
		if err := s.deps.Settings.SetWave(*wave); err != nil {
			return nil, connect.NewError(connect.CodeUnavailable, err)
		}
	}
	return s.statusResponse()
}

// Subscribe streams island frames until the client leaves or the daemon stops.
func (s *IslandService) Subscribe(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	id, frames := s.deps.Frames.Subscribe()
	defer s.deps.Frames.Unsubscribe(id)
	zlog.Info().Msgf("api: subscriber joined: id=%s", id)
	defer zlog.Info().Msgf("api: subscriber left: id=%s", id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			msg, err := FrameMessage(f).ToStruct()
			if err != nil {
				return connect.NewError(connect.CodeInternal, err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *IslandService) requireRunning() error {
	st, ok := s.deps.Hosts.HostStatus()
	if !ok || !st.Phase.IsRunning() {
		return connect.NewError(connect.CodeFailedPrecondition, host.ErrNoHost)
	}
	return nil
}

func (s *IslandService) statusResponse() (*connect.Response[structpb.Struct], error) {
	msg, err := s.status().ToStruct()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func (s *IslandService) status() islandv1.Status {
	cur := s.deps.Settings.Current()
	st := islandv1.Status{
		Visibility:  island.Hidden.String(),
		Enabled:     cur.Enabled,
		Wave:        cur.Wave.String(),
		Subscribers: s.deps.Frames.SubscriberCount(),
		Warnings:    s.deps.Warnings,
	}

	hs, ok := s.deps.Hosts.HostStatus()
	if !ok {
		return st
	}
	st.HostID = hs.ID
	st.HostPhase = hs.Phase.String()
	st.StopReason = string(hs.StopReason)
	st.LastHeartbeat = islandv1.FormatTime(hs.LastHeartbeat)
	st.Running = hs.Phase.IsRunning()
	if !st.Running {
		return st
	}

	env := hs.Island.Environment
	st.Visibility = hs.Island.Visibility.String()
	st.Unlocked = env.Unlocked
	st.TargetForeground = env.TargetForeground
	st.PauseDeadline = islandv1.FormatTime(hs.Island.PauseDeadline)

	snap := hs.Media
	st.Phase = snap.Phase.String()
	st.Player = snap.Player
	st.Title = snap.Track.Title
	st.Artists = snap.Track.Artists
	st.Album = snap.Track.Album
	st.DurationMs = snap.Track.Duration.Milliseconds()
	st.ElapsedMs = snap.Position.At(s.deps.Clock.Now(), snap.Phase.IsPlaying()).Milliseconds()
	return st
}

// FrameMessage converts a frame into its API message.
func FrameMessage(f frame.Frame) islandv1.Frame {
	c := f.Content
	return islandv1.Frame{
		Seq:          f.SequenceNo,
		State:        f.State(),
		Player:       c.Player,
		Phase:        c.Phase.String(),
		Title:        c.Track.Title,
		Artists:      c.Track.Artists,
		Album:        c.Track.Album,
		ElapsedMs:    c.Position.At(f.Time, c.Phase.IsPlaying()).Milliseconds(),
		DurationMs:   c.Track.Duration.Milliseconds(),
		Background:   c.Background,
		OnBackground: c.OnBackground,
		Accent:       c.Accent,
		Wave:         c.Wave,
		Time:         islandv1.FormatTime(f.Time),
	}
}

func lookupWave(name string) (settings.WaveVariant, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, w := range settings.AllWaves {
		if w.String() == name {
			return w, true
		}
	}
	return settings.WaveClassic, false
}

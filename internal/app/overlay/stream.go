package overlay

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/domain/frame"
)

// Broadcaster delivers frames to external renderers.
type Broadcaster interface {
	Broadcast(f frame.Frame) frame.Frame
}

// StreamSurfaceConfig holds the settings of a "stream" surface.
type StreamSurfaceConfig struct {
	// Renderers attached when the overlay is shown. Attach fails while fewer
	// are connected; 0 always succeeds.
	MinSubscribers int `mapstructure:"min_subscribers" default:"0" validate:"gte=0,lte=64"`
}

// SubscriberCounter reports connected renderers.
type SubscriberCounter interface {
	SubscriberCount() int
}

// StreamSurface publishes every view change as a frame.
type StreamSurface struct {
	mu          sync.Mutex
	broadcaster Broadcaster
	counter     SubscriberCounter
	config      StreamSurfaceConfig
	clock       clockwork.Clock
	attached    bool
}

// NewStreamSurface creates a stream surface from free-form settings.
// counter may be nil when min_subscribers is 0.
func NewStreamSurface(broadcaster Broadcaster, counter SubscriberCounter, clock clockwork.Clock, settings map[string]any) (*StreamSurface, error) {
	if broadcaster == nil {
		return nil, errors.New("stream surface requires a broadcaster")
	}
	var config StreamSurfaceConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("stream surface config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		zlog.Error().Msgf("stream surface validation failed: %v", err)
		return nil, errors.Wrap(err, "validation failed")
	}
	if config.MinSubscribers > 0 && counter == nil {
		return nil, errors.New("min_subscribers requires a subscriber counter")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StreamSurface{broadcaster: broadcaster, counter: counter, config: config, clock: clock}, nil
}

// Name returns "stream".
func (s *StreamSurface) Name() string { return "stream" }

// Attach publishes a visible frame.
func (s *StreamSurface) Attach(_ context.Context, view View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MinSubscribers > 0 && s.counter.SubscriberCount() < s.config.MinSubscribers {
		return errors.Wrapf(ErrUnavailable, "stream: %d renderers connected, need %d",
			s.counter.SubscriberCount(), s.config.MinSubscribers)
	}
	s.attached = true
	s.publishLocked(true, view)
	return nil
}

// Render publishes the view while attached.
func (s *StreamSurface) Render(_ context.Context, view View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil
	}
	s.publishLocked(true, view)
	return nil
}

// Detach publishes a hidden frame.
func (s *StreamSurface) Detach(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return nil
	}
	s.attached = false
	s.publishLocked(false, View{})
	return nil
}

func (s *StreamSurface) publishLocked(visible bool, view View) {
	s.broadcaster.Broadcast(frame.Frame{
		Visible:  visible,
		Expanded: visible && view.Expanded,
		Content:  view.Content,
		Time:     s.clock.Now(),
	})
}

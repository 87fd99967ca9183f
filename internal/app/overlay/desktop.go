package overlay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/domain/playback"
)

// Notification is a desktop notification request.
type Notification struct {
	AppName    string
	ReplacesID uint32
	Icon       string
	Summary    string
	Body       string
	Actions    []string // Alternating key, label pairs
	Urgency    byte
	Timeout    int32 // Milliseconds, -1 server default, 0 never expires
}

// Notifier posts and closes desktop notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) (uint32, error)
	CloseNotification(ctx context.Context, id uint32) error
}

// DesktopSurfaceConfig holds the settings of a "desktop" surface.
type DesktopSurfaceConfig struct {
	AppName string `mapstructure:"app_name" default:"Music Island" validate:"required"`
	Icon    string `mapstructure:"icon" default:"audio-x-generic"`
	Urgency int    `mapstructure:"urgency" default:"0" validate:"gte=0,lte=2"`

	// Action buttons are posted unless disabled.
	DisableActions bool `mapstructure:"disable_actions"`
}

// Action keys posted with expanded notifications.
const (
	ActionPrevious = "previous"
	ActionToggle   = "toggle"
	ActionNext     = "next"
	ActionTap      = "default"
)

// DesktopSurface shows the island as a persistent desktop notification.
type DesktopSurface struct {
	mu       sync.Mutex
	notifier Notifier
	config   DesktopSurfaceConfig
	id       uint32 // Current notification, 0 when detached
}

// NewDesktopSurface creates a desktop surface from free-form settings.
func NewDesktopSurface(notifier Notifier, settings map[string]any) (*DesktopSurface, error) {
	if notifier == nil {
		return nil, errors.New("desktop surface requires a notifier")
	}
	var config DesktopSurfaceConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("desktop surface config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		zlog.Error().Msgf("desktop surface validation failed: %v", err)
		return nil, errors.Wrap(err, "validation failed")
	}
	return &DesktopSurface{notifier: notifier, config: config}, nil
}

// Name returns "desktop".
func (d *DesktopSurface) Name() string { return "desktop" }

// NotificationID returns the id of the posted notification.
func (d *DesktopSurface) NotificationID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Attach posts the notification.
func (d *DesktopSurface) Attach(ctx context.Context, view View) error {
	return d.post(ctx, view)
}

// Render replaces the posted notification.
func (d *DesktopSurface) Render(ctx context.Context, view View) error {
	d.mu.Lock()
	attached := d.id != 0
	d.mu.Unlock()
	if !attached {
		return nil
	}
	return d.post(ctx, view)
}

// Detach closes the notification.
func (d *DesktopSurface) Detach(ctx context.Context) error {
	d.mu.Lock()
	id := d.id
	d.id = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	if err := d.notifier.CloseNotification(ctx, id); err != nil {
		return errors.Wrapf(err, "failed to close notification %d", id)
	}
	return nil
}

func (d *DesktopSurface) post(ctx context.Context, view View) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.notification(view)
	n.ReplacesID = d.id
	id, err := d.notifier.Notify(ctx, n)
	if err != nil {
		return errors.Wrap(err, "failed to post notification")
	}
	d.id = id
	return nil
}

func (d *DesktopSurface) notification(view View) Notification {
	c := view.Content
	summary := c.Track.Title
	if summary == "" {
		summary = d.config.AppName
	}

	var body []string
	if line := c.Track.ArtistLine(); line != "" {
		body = append(body, line)
	}
	if view.Expanded {
		if c.Track.Album != "" {
			body = append(body, c.Track.Album)
		}
		body = append(body, statusLine(c.Phase, c.Position, c.Track))
	}

	icon := d.config.Icon
	if art := c.Track.ArtPath(); art != "" {
		icon = art
	}

	n := Notification{
		AppName: d.config.AppName,
		Icon:    icon,
		Summary: summary,
		Body:    strings.Join(body, "\n"),
		Urgency: byte(d.config.Urgency),
		Timeout: 0,
	}
	if !d.config.DisableActions {
		n.Actions = []string{ActionTap, "Expand"}
		if view.Expanded {
			toggle := "Play"
			if c.Phase == playback.PhasePlaying || c.Phase == playback.PhaseBuffering {
				toggle = "Pause"
			}
			n.Actions = []string{ActionTap, "Collapse", ActionPrevious, "Previous", ActionToggle, toggle, ActionNext, "Next"}
		}
	}
	return n
}

func statusLine(phase playback.Phase, pos playback.Position, trk playback.Track) string {
	elapsed := pos.Elapsed
	if trk.Duration > 0 {
		return fmt.Sprintf("%s %s / %s", phase, formatDuration(elapsed), formatDuration(trk.Duration))
	}
	return fmt.Sprintf("%s %s", phase, formatDuration(elapsed))
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

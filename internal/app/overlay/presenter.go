// Package overlay renders the island on its surfaces and turns user gestures
// into state machine requests.
package overlay

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/island"
	"github.com/osa030/musicisland/internal/domain/frame"
)

// DefaultEffectTimeout bounds a single surface call.
const DefaultEffectTimeout = time.Second

// View is what a surface is asked to display.
type View struct {
	Expanded bool
	Content  frame.Content
}

// Surface is one place the overlay is drawn on.
type Surface interface {
	Name() string
	Attach(ctx context.Context, view View) error
	Detach(ctx context.Context) error
	Render(ctx context.Context, view View) error
}

// Presenter implements island.Presenter over a fixed set of surfaces.
// It owns the surfaces; nothing else may attach or detach them.
type Presenter struct {
	mu sync.Mutex

	surfaces []Surface
	attached []Surface
	shown    bool
	view     View
	timeout  time.Duration
}

var _ island.Presenter = (*Presenter)(nil)

// NewPresenter creates a presenter for the given surfaces.
func NewPresenter(surfaces ...Surface) *Presenter {
	return &Presenter{surfaces: surfaces, timeout: DefaultEffectTimeout}
}

// Show attaches every surface. If any surface fails, the ones already
// attached are detached again and the overlay counts as not shown.
func (p *Presenter) Show() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shown {
		return
	}
	view := p.view

	for _, s := range p.surfaces {
		if err := p.call(func(ctx context.Context) error { return s.Attach(ctx, view) }); err != nil {
			zlog.Error().Err(err).Msgf("overlay: attach failed, overlay not shown: surface=%s", s.Name())
			p.detachAllLocked()
			return
		}
		p.attached = append(p.attached, s)
	}
	p.shown = true
	zlog.Debug().Msgf("overlay: shown: surfaces=%d", len(p.attached))
}

// Hide detaches every attached surface. Errors are logged and ignored.
func (p *Presenter) Hide() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.shown && len(p.attached) == 0 {
		return
	}
	p.detachAllLocked()
	zlog.Debug().Msg("overlay: hidden")
}

// SetLayout switches between the pill and the expanded view.
func (p *Presenter) SetLayout(layout island.Layout) {
	p.mu.Lock()
	defer p.mu.Unlock()

	expanded := layout == island.LayoutExpanded
	if p.view.Expanded == expanded {
		return
	}
	p.view.Expanded = expanded
	p.renderLocked()
}

// SetContent replaces the displayed content and refreshes attached surfaces.
func (p *Presenter) SetContent(content frame.Content) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if equalContent(p.view.Content, content) {
		return
	}
	p.view.Content = content
	p.renderLocked()
}

// Shown reports whether the overlay is currently attached.
func (p *Presenter) Shown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown
}

// View returns the current view.
func (p *Presenter) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

func (p *Presenter) renderLocked() {
	if !p.shown {
		return
	}
	view := p.view
	for _, s := range p.attached {
		if err := p.call(func(ctx context.Context) error { return s.Render(ctx, view) }); err != nil {
			zlog.Warn().Err(err).Msgf("overlay: render failed: surface=%s", s.Name())
		}
	}
}

func (p *Presenter) detachAllLocked() {
	for i := len(p.attached) - 1; i >= 0; i-- {
		s := p.attached[i]
		if err := p.call(s.Detach); err != nil {
			zlog.Debug().Err(err).Msgf("overlay: detach failed: surface=%s", s.Name())
		}
	}
	p.attached = nil
	p.shown = false
}

// call runs a surface operation with a timeout. A panicking surface is
// reported as an error.
func (p *Presenter) call(fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = &surfaceError{cause: r}
		}
	}()
	return fn(ctx)
}

func equalContent(a, b frame.Content) bool {
	if a.Player != b.Player || a.Phase != b.Phase || a.Position != b.Position ||
		a.Background != b.Background || a.OnBackground != b.OnBackground ||
		a.Accent != b.Accent || a.Wave != b.Wave {
		return false
	}
	ta, tb := a.Track, b.Track
	if ta.ID != tb.ID || ta.Title != tb.Title || ta.Album != tb.Album ||
		ta.ArtURL != tb.ArtURL || ta.Duration != tb.Duration ||
		len(ta.Artists) != len(tb.Artists) {
		return false
	}
	for i := range ta.Artists {
		if ta.Artists[i] != tb.Artists[i] {
			return false
		}
	}
	return true
}

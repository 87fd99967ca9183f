package overlay

import (
	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/infra/config"
)

// Backends are the dependencies surfaces may be built on.
type Backends struct {
	Notifier    Notifier
	Broadcaster Broadcaster
	Counter     SubscriberCounter
	Clock       clockwork.Clock
}

// NewSurfacesFromConfig creates the configured surfaces in order.
func NewSurfacesFromConfig(cfg *config.Config, backends Backends) ([]Surface, error) {
	if len(cfg.Overlay.Surfaces) == 0 {
		return nil, errors.New("no overlay surfaces configured")
	}

	var surfaces []Surface
	for i, scfg := range cfg.Overlay.Surfaces {
		var surface Surface
		var err error
		zlog.Debug().Msgf("creating overlay surface: index=%d type=%s settings=%+v", i+1, scfg.Type, scfg.Settings)
		switch scfg.Type {
		case "desktop":
			surface, err = NewDesktopSurface(backends.Notifier, scfg.Settings)

		case "stream":
			surface, err = NewStreamSurface(backends.Broadcaster, backends.Counter, backends.Clock, scfg.Settings)

		default:
			return nil, errors.Newf("unsupported surface type: %s (surface index %d)", scfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create surface (index %d, type %s)", i, scfg.Type)
		}

		surfaces = append(surfaces, surface)
		zlog.Info().Msgf("registered overlay surface: index=%d type=%s", i+1, scfg.Type)
	}
	return surfaces, nil
}

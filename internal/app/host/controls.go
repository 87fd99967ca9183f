package host

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/musicisland/internal/app/island"
	"github.com/osa030/musicisland/internal/app/media"
)

// ErrNoHost is returned when no host is running.
var ErrNoHost = errors.New("no island host running")

// Controls routes gestures and transport commands to the running host.
// Calls without a running host are dropped.
type Controls struct {
	sup *Supervisor
}

// Controls returns the controls of the supervisor's current host.
func (s *Supervisor) Controls() *Controls {
	return &Controls{sup: s}
}

// Running returns the running host, or ErrNoHost.
func (c *Controls) Running() (*Host, error) {
	h := c.sup.Current()
	if h == nil || !h.Phase().IsRunning() || h.Machine() == nil {
		return nil, ErrNoHost
	}
	return h, nil
}

func (c *Controls) machine() *island.Machine {
	h, err := c.Running()
	if err != nil {
		return nil
	}
	return h.Machine()
}

func (c *Controls) source() *media.Source {
	h, err := c.Running()
	if err != nil {
		return nil
	}
	return h.Source()
}

// State returns the island visibility, Hidden without a host.
func (c *Controls) State() island.Visibility {
	if m := c.machine(); m != nil {
		return m.State()
	}
	return island.Hidden
}

func (c *Controls) RequestExpand() {
	if m := c.machine(); m != nil {
		m.RequestExpand()
	}
}

func (c *Controls) RequestCollapse() {
	if m := c.machine(); m != nil {
		m.RequestCollapse()
	}
}

func (c *Controls) RequestClose() {
	if m := c.machine(); m != nil {
		m.RequestClose()
	}
}

func (c *Controls) Play()     { c.transport((*media.Source).Play) }
func (c *Controls) Pause()    { c.transport((*media.Source).Pause) }
func (c *Controls) Toggle()   { c.transport((*media.Source).Toggle) }
func (c *Controls) Next()     { c.transport((*media.Source).Next) }
func (c *Controls) Previous() { c.transport((*media.Source).Previous) }
func (c *Controls) Raise()    { c.transport((*media.Source).Raise) }

func (c *Controls) transport(fn func(*media.Source)) {
	if s := c.source(); s != nil {
		fn(s)
	}
}

package x11

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/cockroachdb/errors"
)

// Display is a connection to the X server. It implements WindowReader.
type Display struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen int

	mu    sync.Mutex
	atoms map[string]xproto.Atom
}

// Open connects to the display named by $DISPLAY.
func Open() (*Display, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to X server")
	}
	setup := xproto.Setup(conn)
	return &Display{
		conn:   conn,
		root:   setup.DefaultScreen(conn).Root,
		screen: conn.DefaultScreen,
		atoms:  make(map[string]xproto.Atom),
	}, nil
}

func (d *Display) atom(name string) (xproto.Atom, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(d.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to intern atom %s", name)
	}
	d.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// ActiveClass returns the WM_CLASS class of the focused window, or an empty
// string when nothing is focused.
func (d *Display) ActiveClass() (string, error) {
	active, err := d.atom("_NET_ACTIVE_WINDOW")
	if err != nil {
		return "", err
	}
	reply, err := xproto.GetProperty(d.conn, false, d.root, active, xproto.AtomWindow, 0, 1).Reply()
	if err != nil {
		return "", errors.Wrap(err, "failed to read _NET_ACTIVE_WINDOW")
	}
	if reply.Format != 32 || len(reply.Value) < 4 {
		return "", nil
	}
	win := xproto.Window(xgb.Get32(reply.Value))
	if win == 0 {
		return "", nil
	}

	cls, err := xproto.GetProperty(d.conn, false, win, xproto.AtomWmClass, xproto.AtomString, 0, 256).Reply()
	if err != nil {
		return "", errors.Wrapf(err, "failed to read WM_CLASS of window 0x%x", uint32(win))
	}
	_, class := parseWMClass(cls.Value)
	return class, nil
}

// CompositorRunning reports whether a compositing manager owns the
// _NET_WM_CM_S<screen> selection.
func (d *Display) CompositorRunning() bool {
	sel, err := d.atom(fmt.Sprintf("_NET_WM_CM_S%d", d.screen))
	if err != nil || sel == 0 {
		return false
	}
	reply, err := xproto.GetSelectionOwner(d.conn, sel).Reply()
	if err != nil {
		return false
	}
	return reply.Owner != 0
}

// Close closes the connection.
func (d *Display) Close() {
	d.conn.Close()
}

// parseWMClass splits the NUL separated WM_CLASS value into instance and
// class. A missing class falls back to the instance.
func parseWMClass(value []byte) (instance, class string) {
	parts := bytes.Split(bytes.TrimRight(value, "\x00"), []byte{0})
	if len(parts) > 0 {
		instance = string(parts[0])
	}
	if len(parts) > 1 {
		class = string(parts[1])
	}
	if class == "" {
		class = instance
	}
	return instance, class
}

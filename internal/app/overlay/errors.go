package overlay

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrUnavailable is returned by a surface whose backend is not reachable.
var ErrUnavailable = errors.New("surface unavailable")

// surfaceError wraps a panic raised inside a surface.
type surfaceError struct {
	cause any
}

func (e *surfaceError) Error() string {
	return fmt.Sprintf("surface panicked: %v", e.cause)
}

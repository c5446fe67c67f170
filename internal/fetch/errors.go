package fetch

import (
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// TransportError is a request that never produced a complete response:
// connection failures, timeouts, truncated bodies.
type TransportError struct {
	Tile maptile.Tile
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteRejection is a response the source answered without a usable tile.
type RemoteRejection struct {
	Tile       maptile.Tile
	URL        string
	StatusCode int
	Reason     string
}

func (e *RemoteRejection) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("fetch %s: status %d: %s", e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

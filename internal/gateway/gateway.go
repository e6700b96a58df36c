// Package gateway delivers messages to live WebSocket connections.
//
// The relay addresses peers purely by connection ID; this package owns the
// mapping from IDs to sockets. A peer disconnecting between lookup and
// push is an expected race, not a delivery failure.
package gateway

import (
	"context"
	"errors"
)

// ErrGone marks a destination connection that no longer exists. It never
// escapes Push; it exists so registry internals and tests can name the
// condition.
var ErrGone = errors.New("destination connection gone")

// Gateway pushes a pre-encoded message to one addressed connection.
//
// Push absorbs the gone race: delivering to a connection that has already
// closed returns nil. Any other failure is returned to the caller, which
// decides whether to escalate. There is no retry, queuing, or ordering
// guarantee across pushes.
type Gateway interface {
	Push(ctx context.Context, connectionID string, data []byte) error
}

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/gorilla/websocket"
)

// Registry is the in-process Gateway implementation backed by the hub's
// own WebSocket connections. The relay registers each socket after a
// successful connect and unregisters it when the read loop exits.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*conn // connection_id -> conn
}

// conn pairs a socket with a write mutex; gorilla/websocket allows only
// one concurrent writer per connection.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "gateway"),
		conns:  make(map[string]*conn),
	}
}

// Register makes a connection addressable. A second registration under the
// same ID replaces the first; the caller is responsible for closing the
// displaced socket.
func (r *Registry) Register(connectionID string, ws *websocket.Conn) {
	r.mu.Lock()
	r.conns[connectionID] = &conn{ws: ws}
	r.mu.Unlock()
}

// Unregister removes a connection. Unknown IDs are ignored.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	delete(r.conns, connectionID)
	r.mu.Unlock()
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Push writes data as a single text message to the addressed connection.
// A missing or already-closed destination is absorbed: the peer may
// disconnect at any moment and senders must not observe that race.
func (r *Registry) Push(ctx context.Context, connectionID string, data []byte) error {
	r.mu.RLock()
	c, ok := r.conns[connectionID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("push to gone connection", "connection_id", connectionID)
		return nil
	}

	c.mu.Lock()
	err := c.ws.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		if isGone(err) {
			r.logger.Debug("push raced connection close", "connection_id", connectionID)
			return nil
		}
		r.logger.Warn("push failed", "connection_id", connectionID, "error", err)
		return err
	}
	return nil
}

// isGone reports whether a write error means the peer is simply gone.
func isGone(err error) bool {
	if errors.Is(err, ErrGone) || errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

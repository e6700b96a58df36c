package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rovermesh/signalhub/internal/gateway"
	"github.com/rovermesh/signalhub/pkg/protocol"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser peers
			}
			return originSet[origin]
		},
	}
}

// WSServer terminates WebSocket connections and feeds the relay. Each
// socket gets a minted connection ID; its open and close are translated
// into $connect/$disconnect events and every frame into a message event.
type WSServer struct {
	relay           *Relay
	registry        *gateway.Registry
	logger          *slog.Logger
	upgrader        websocket.Upgrader
	maxMessageBytes int64
}

// WSOptions configures the WebSocket front end.
type WSOptions struct {
	AllowedOrigins  []string
	MaxMessageBytes int64 // max inbound frame size (default 64KB)
}

// NewWSServer creates a WSServer over the given relay and registry.
func NewWSServer(r *Relay, reg *gateway.Registry, logger *slog.Logger, opts WSOptions) *WSServer {
	maxBytes := opts.MaxMessageBytes
	if maxBytes == 0 {
		maxBytes = 64 * 1024 // 64KB default
	}
	return &WSServer{
		relay:           r,
		registry:        reg,
		logger:          logger.With("component", "ws"),
		upgrader:        makeUpgrader(opts.AllowedOrigins),
		maxMessageBytes: maxBytes,
	}
}

// HandleWS upgrades the HTTP request and runs the connection's read loop.
// The identity token is read from the token query parameter; it is carried
// on every synthesized event so claims stay per-event.
func (s *WSServer) HandleWS(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")

	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	connID := uuid.New().String()
	ctx := context.Background()

	resp := s.relay.HandleEvent(ctx, Event{
		RouteKey:     RouteConnect,
		ConnectionID: connID,
		Token:        token,
	})
	if resp.StatusCode != http.StatusOK {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, resp.Body))
		return
	}

	s.registry.Register(connID, conn)
	conn.SetReadLimit(s.maxMessageBytes)

	defer func() {
		s.registry.Unregister(connID)
		s.relay.HandleEvent(ctx, Event{
			RouteKey:     RouteDisconnect,
			ConnectionID: connID,
		})
		s.logger.Info("peer disconnected", "connection_id", connID)
	}()

	// Tell the peer its connection ID so controllers can hand it to robots
	// inside signaling payloads.
	s.send(ctx, connID, protocol.Welcome{Type: "welcome", ConnectionID: connID})

	s.logger.Info("peer connected", "connection_id", connID)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("read error", "connection_id", connID, "error", err)
			return
		}

		resp := s.relay.HandleEvent(ctx, Event{
			RouteKey:     RouteDefault,
			ConnectionID: connID,
			Token:        token,
			Body:         msg,
		})

		s.send(ctx, connID, protocol.Ack{
			Type:       "ack",
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		})
	}
}

// send writes a control frame back to the sender through the registry so
// it shares the connection's write mutex with forwarded pushes.
func (s *WSServer) send(ctx context.Context, connID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.registry.Push(ctx, connID, data); err != nil {
		s.logger.Debug("send failed", "connection_id", connID, "error", err)
	}
}

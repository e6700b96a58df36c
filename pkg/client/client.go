// Package client provides a WebSocket client for the signalhub relay.
// Robots and controllers both use it: the transport is symmetric and the
// roles only differ in which message types they send.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rovermesh/signalhub/pkg/protocol"
)

// PushHandler processes messages pushed by the hub: forwarded signals and
// takeover notices. Acks are consumed separately via NextAck.
type PushHandler func(msg json.RawMessage)

// Options configures a Dial.
type Options struct {
	TLSSkipVerify    bool
	HandshakeTimeout time.Duration // default 10s
	Handler          PushHandler   // optional; nil drops pushes
	Logger           *slog.Logger  // optional
}

// Client is a connected signalhub peer.
type Client struct {
	logger  *slog.Logger
	handler PushHandler

	mu   sync.Mutex
	conn *websocket.Conn

	connID string
	ready  chan struct{}
	acks   chan protocol.Ack
	done   chan struct{}
}

// Dial connects to the hub, waits for the welcome frame, and starts the
// read loop. The returned client knows its hub-assigned connection ID.
func Dial(ctx context.Context, hubURL, token string, opts Options) (*Client, error) {
	timeout := opts.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if opts.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial hub: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		logger:  logger.With("component", "signalhub-client"),
		handler: opts.Handler,
		conn:    conn,
		ready:   make(chan struct{}),
		acks:    make(chan protocol.Ack, 16),
		done:    make(chan struct{}),
	}

	go c.readLoop()

	select {
	case <-c.ready:
		return c, nil
	case <-c.done:
		return nil, fmt.Errorf("connection closed before welcome")
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	}
}

// ConnectionID returns the hub-assigned connection ID from the welcome
// frame. Controllers hand it to robots inside signaling payloads so the
// robot can answer with target=client.
func (c *Client) ConnectionID() string {
	return c.connID
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("read loop ended", "error", err)
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			c.logger.Warn("invalid message from hub", "error", err)
			continue
		}

		switch head.Type {
		case "welcome":
			var w protocol.Welcome
			if err := json.Unmarshal(msg, &w); err == nil {
				c.connID = w.ConnectionID
				close(c.ready)
			}
		case "ack":
			var a protocol.Ack
			if err := json.Unmarshal(msg, &a); err == nil {
				select {
				case c.acks <- a:
				default:
					c.logger.Warn("ack buffer full, dropping")
				}
			}
		default:
			if c.handler != nil {
				c.handler(msg)
			}
		}
	}
}

// Send writes one inbound message to the hub.
func (c *Client) Send(msg protocol.InboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Register claims presence for a robot under the caller's identity.
func (c *Client) Register(robotID string) error {
	return c.Send(protocol.InboundMessage{Type: protocol.TypeRegister, RobotID: robotID})
}

// SendToRobot forwards a signaling message to the robot's connection.
func (c *Client) SendToRobot(msgType, robotID string, payload json.RawMessage) error {
	return c.Send(protocol.InboundMessage{
		Type:    msgType,
		RobotID: robotID,
		Target:  protocol.TargetRobot,
		Payload: payload,
	})
}

// SendToClient forwards a signaling message to a controller connection.
func (c *Client) SendToClient(msgType, robotID, clientConnectionID string, payload json.RawMessage) error {
	return c.Send(protocol.InboundMessage{
		Type:               msgType,
		RobotID:            robotID,
		Target:             protocol.TargetClient,
		ClientConnectionID: clientConnectionID,
		Payload:            payload,
	})
}

// Takeover asks the hub to notify the robot that its session is being
// reclaimed.
func (c *Client) Takeover(robotID string) error {
	return c.Send(protocol.InboundMessage{Type: protocol.TypeTakeover, RobotID: robotID})
}

// NextAck returns the next per-message ack from the hub.
func (c *Client) NextAck(ctx context.Context) (protocol.Ack, error) {
	select {
	case a := <-c.acks:
		return a, nil
	case <-c.done:
		return protocol.Ack{}, fmt.Errorf("connection closed")
	case <-ctx.Done():
		return protocol.Ack{}, ctx.Err()
	}
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
	return c.conn.Close()
}

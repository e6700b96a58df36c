// Package protocol defines the wire protocol messages exchanged between
// robots, controller clients, and the signalhub over WebSocket.
//
// All messages are JSON-encoded. Field names are camelCase on the wire so
// that browser controllers and embedded robot firmware share one schema.
package protocol

import "encoding/json"

// Message types accepted by the hub.
const (
	TypeRegister     = "register"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeTakeover     = "takeover"

	// TypeAdminTakeover is the outbound notification pushed to a robot
	// when its session is being reclaimed.
	TypeAdminTakeover = "admin-takeover"
)

// Signal targets.
const (
	TargetRobot  = "robot"
	TargetClient = "client"
)

// InboundMessage is the JSON body a connected peer sends on the socket.
type InboundMessage struct {
	Type               string          `json:"type"`
	RobotID            string          `json:"robotId,omitempty"`
	Target             string          `json:"target,omitempty"`
	ClientConnectionID string          `json:"clientConnectionId,omitempty"`
	Payload            json.RawMessage `json:"payload,omitempty"`
}

// OutboundSignal is pushed to the destination connection when a signaling
// message (offer, answer, ice-candidate) is forwarded. Payload passes
// through unmodified.
type OutboundSignal struct {
	Type    string          `json:"type"`
	RobotID string          `json:"robotId"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TakeoverNotice is pushed to a robot's connection on takeover. It carries
// no payload; delivery of the notice is the entire operation.
type TakeoverNotice struct {
	Type    string `json:"type"` // always "admin-takeover"
	RobotID string `json:"robotId"`
	By      string `json:"by"`
}

// Welcome is the first frame the hub writes on a freshly accepted
// connection. It tells the peer its connection ID, which clients relay
// inside signaling payloads so robots can address them back.
type Welcome struct {
	Type         string `json:"type"` // always "welcome"
	ConnectionID string `json:"connectionId"`
}

// Ack is written back to the sender after each inbound message, mirroring
// the {statusCode, body} response shape of the dispatch layer.
type Ack struct {
	Type       string `json:"type"` // always "ack"
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body,omitempty"`
}

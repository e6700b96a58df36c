// Package store defines the directory storage interface for the hub and
// provides SQLite and PostgreSQL implementations.
//
// Two independent keyspaces live here: connection records keyed by
// connection ID, and robot presence records keyed by robot ID. The single
// piece of atomicity the hub depends on is ConditionalAssignOwner.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrOwnershipConflict is returned by ConditionalAssignOwner when the
// robot already has a presence record owned by a different user.
var ErrOwnershipConflict = errors.New("robot already registered by another owner")

// Store is the persistence interface for the hub's two directories.
type Store interface {
	// Connections
	PutConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, connectionID string) (*Connection, error)
	DeleteConnection(ctx context.Context, connectionID string) error
	ListConnections(ctx context.Context) ([]Connection, error)

	// Presence
	// ConditionalAssignOwner writes the record only when no record exists
	// for the robot or the existing owner equals rec.OwnerUserID. On a
	// losing race or foreign owner it returns ErrOwnershipConflict and
	// leaves the stored record untouched.
	ConditionalAssignOwner(ctx context.Context, rec *Presence) error
	// PutPresence overwrites unconditionally (admin force-claim).
	PutPresence(ctx context.Context, rec *Presence) error
	GetPresence(ctx context.Context, robotID string) (*Presence, error)
	// MarkOfflineByConnection flips to "offline" every presence record
	// still pointing at the given connection ID. Ownership is untouched.
	MarkOfflineByConnection(ctx context.Context, connectionID string) error
	ListPresence(ctx context.Context) ([]Presence, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Connection kinds.
const (
	KindClient = "client"
	KindRobot  = "robot" // reserved; every socket registers as a client today
)

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Connection records an authenticated WebSocket connection. Written on
// connect, deleted on disconnect; its lifetime is bounded by the socket.
type Connection struct {
	ID        string    `json:"connectionId"`
	UserID    string    `json:"userId"`
	Groups    string    `json:"groups"` // comma-joined claim groups
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Presence records which user owns a robot and which connection currently
// represents it. At most one record exists per robot ID.
type Presence struct {
	RobotID      string    `json:"robotId"`
	OwnerUserID  string    `json:"ownerUserId"`
	ConnectionID string    `json:"connectionId"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

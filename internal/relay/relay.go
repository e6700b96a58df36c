// Package relay implements the signaling dispatch state machine: it
// authenticates inbound events, maintains the connection and presence
// directories, enforces the ownership policy, and forwards negotiation
// payloads between peers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rovermesh/signalhub/internal/auth"
	"github.com/rovermesh/signalhub/internal/gateway"
	"github.com/rovermesh/signalhub/internal/store"
	"github.com/rovermesh/signalhub/pkg/protocol"
)

// Relay dispatches inbound events. It holds no per-connection state of its
// own: everything cross-request lives in the store, so concurrent events
// need no coordination here.
type Relay struct {
	store       store.Store
	verifier    auth.Verifier
	gateway     gateway.Gateway
	logger      *slog.Logger
	adminGroups []string
}

// Options configures the Relay.
type Options struct {
	AdminGroups []string // groups whose members may force-claim and bypass ownership
}

// New creates a Relay.
func New(s store.Store, v auth.Verifier, g gateway.Gateway, logger *slog.Logger, opts Options) *Relay {
	adminGroups := opts.AdminGroups
	if len(adminGroups) == 0 {
		adminGroups = []string{"admin", "ADMINS"}
	}
	return &Relay{
		store:       s,
		verifier:    v,
		gateway:     g,
		logger:      logger.With("component", "relay"),
		adminGroups: adminGroups,
	}
}

// HandleEvent runs one event through the dispatch state machine and
// returns the response for the transport. It never panics: anything
// unanticipated while resolving a route degrades to 400.
func (r *Relay) HandleEvent(ctx context.Context, ev Event) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in event dispatch", "route", ev.RouteKey, "panic", rec)
			resp = badRequest("bad request")
		}
	}()

	switch ev.RouteKey {
	case RouteConnect:
		return r.handleConnect(ctx, ev)
	case RouteDisconnect:
		return r.handleDisconnect(ctx, ev)
	}

	// Message path: claims are re-derived from the token on every frame.
	claims, err := r.verifier.Verify(ctx, ev.Token)
	if err != nil {
		return unauthorized()
	}

	var msg protocol.InboundMessage
	if err := json.Unmarshal(ev.Body, &msg); err != nil {
		return badRequest("invalid JSON")
	}

	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case protocol.TypeRegister:
		return r.handleRegister(ctx, claims, ev.ConnectionID, &msg)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		return r.handleSignal(ctx, claims, &msg)
	case protocol.TypeTakeover:
		return r.handleTakeover(ctx, claims, &msg)
	default:
		return badRequest("unknown type")
	}
}

// handleConnect authenticates the opening connection and records it. The
// connection record is bookkeeping, not a session: a store failure is
// logged but does not reject the connection.
func (r *Relay) handleConnect(ctx context.Context, ev Event) Response {
	claims, err := r.verifier.Verify(ctx, ev.Token)
	if err != nil {
		return unauthorized()
	}

	rec := &store.Connection{
		ID:        ev.ConnectionID,
		UserID:    claims.Subject,
		Groups:    strings.Join(claims.Groups, ","),
		Kind:      store.KindClient,
		CreatedAt: time.Now(),
	}
	if err := r.store.PutConnection(ctx, rec); err != nil {
		r.logger.Warn("connect: put connection failed", "connection_id", ev.ConnectionID, "error", err)
	}
	return ok()
}

// handleDisconnect removes the connection record and flips any presence
// record held by this connection to offline. Cleanup must always report
// success to the transport, so failures are logged and swallowed.
func (r *Relay) handleDisconnect(ctx context.Context, ev Event) Response {
	if err := r.store.DeleteConnection(ctx, ev.ConnectionID); err != nil {
		r.logger.Warn("disconnect: cleanup failed", "connection_id", ev.ConnectionID, "error", err)
	}
	if err := r.store.MarkOfflineByConnection(ctx, ev.ConnectionID); err != nil {
		r.logger.Warn("disconnect: mark presence offline failed", "connection_id", ev.ConnectionID, "error", err)
	}
	return ok()
}

// handleRegister claims robot presence for the caller. The store's
// conditional write enforces the single-owner invariant; admins may
// force-claim with an unconditional overwrite.
func (r *Relay) handleRegister(ctx context.Context, claims *auth.Claims, connectionID string, msg *protocol.InboundMessage) Response {
	if msg.RobotID == "" {
		return badRequest("robotId required")
	}

	rec := &store.Presence{
		RobotID:      msg.RobotID,
		OwnerUserID:  claims.Subject,
		ConnectionID: connectionID,
		Status:       store.StatusOnline,
		UpdatedAt:    time.Now(),
	}

	err := r.store.ConditionalAssignOwner(ctx, rec)
	switch {
	case err == nil:
		return ok()
	case errors.Is(err, store.ErrOwnershipConflict):
		if !r.isAdmin(claims) {
			return conflict("robot already registered by another owner")
		}
		// Admin force-claim. The overwrite is unconditional and therefore
		// not race-free against a third concurrent writer.
		if err := r.store.PutPresence(ctx, rec); err != nil {
			r.logger.Warn("register: force-claim failed", "robot_id", msg.RobotID, "error", err)
			return internalError("store error")
		}
		r.logger.Info("robot force-claimed", "robot_id", msg.RobotID, "owner", claims.Subject)
		return ok()
	default:
		r.logger.Warn("register: presence write failed", "robot_id", msg.RobotID, "error", err)
		return internalError("store error")
	}
}

// handleSignal forwards an offer/answer/ice-candidate to its destination.
// The outbound type is copied from the inbound message verbatim.
func (r *Relay) handleSignal(ctx context.Context, claims *auth.Claims, msg *protocol.InboundMessage) Response {
	if msg.RobotID == "" {
		return badRequest("robotId required")
	}

	var targetConn string
	switch msg.Target {
	case protocol.TargetRobot:
		allowed, err := r.isOwnerOrAdmin(ctx, msg.RobotID, claims)
		if err != nil {
			return internalError("store error")
		}
		if !allowed {
			return forbidden()
		}
		rec, err := r.store.GetPresence(ctx, msg.RobotID)
		if err != nil {
			return internalError("store error")
		}
		if rec != nil {
			targetConn = rec.ConnectionID
		}
	case protocol.TargetClient:
		// Client connection IDs are opaque handles exchanged through the
		// signaling flow itself; no ownership check applies here.
		if msg.ClientConnectionID == "" {
			return badRequest("clientConnectionId required for target=client")
		}
		targetConn = msg.ClientConnectionID
	default:
		return badRequest("invalid target")
	}

	if targetConn == "" {
		return notFound("target offline")
	}

	out := protocol.OutboundSignal{
		Type:    msg.Type,
		RobotID: msg.RobotID,
		From:    claims.Subject,
		Payload: msg.Payload,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return internalError("forward failed")
	}
	if err := r.gateway.Push(ctx, targetConn, data); err != nil {
		r.logger.Warn("forward failed", "robot_id", msg.RobotID, "target", msg.Target, "error", err)
		return internalError("forward failed")
	}
	return ok()
}

// handleTakeover notifies a robot that its session is being reclaimed.
// Ownership in the presence directory is not changed; a real reassignment
// is a separate register call.
func (r *Relay) handleTakeover(ctx context.Context, claims *auth.Claims, msg *protocol.InboundMessage) Response {
	if msg.RobotID == "" {
		return badRequest("robotId required")
	}

	allowed, err := r.isOwnerOrAdmin(ctx, msg.RobotID, claims)
	if err != nil {
		return internalError("store error")
	}
	if !allowed {
		return forbidden()
	}

	rec, err := r.store.GetPresence(ctx, msg.RobotID)
	if err != nil {
		return internalError("store error")
	}
	if rec == nil || rec.ConnectionID == "" {
		return notFound("robot offline")
	}

	notice := protocol.TakeoverNotice{
		Type:    protocol.TypeAdminTakeover,
		RobotID: msg.RobotID,
		By:      claims.Subject,
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return internalError("forward failed")
	}
	if err := r.gateway.Push(ctx, rec.ConnectionID, data); err != nil {
		// Notification-only: delivery trouble is logged, not escalated.
		r.logger.Warn("takeover notice push failed", "robot_id", msg.RobotID, "error", err)
	}
	return ok()
}

// isOwnerOrAdmin reports whether the caller may act on the robot. With no
// presence record on file, only admins pass. Read-only; safe to call
// concurrently and repeatedly.
func (r *Relay) isOwnerOrAdmin(ctx context.Context, robotID string, claims *auth.Claims) (bool, error) {
	if r.isAdmin(claims) {
		return true, nil
	}
	rec, err := r.store.GetPresence(ctx, robotID)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.OwnerUserID == "" {
		return false, nil
	}
	return claims.Subject == rec.OwnerUserID, nil
}

func (r *Relay) isAdmin(claims *auth.Claims) bool {
	return claims.HasGroup(r.adminGroups...)
}

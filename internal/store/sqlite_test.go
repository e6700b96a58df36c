package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConnectionLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	conn := &Connection{
		ID:        "C-1",
		UserID:    "user-1",
		Groups:    "drivers,admin",
		Kind:      KindClient,
		CreatedAt: time.Now(),
	}
	if err := s.PutConnection(ctx, conn); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConnection(ctx, "C-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected connection, got nil")
	}
	if got.UserID != "user-1" || got.Groups != "drivers,admin" || got.Kind != KindClient {
		t.Errorf("got %+v", got)
	}

	if err := s.DeleteConnection(ctx, "C-1"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetConnection(ctx, "C-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}

	// Deleting a missing connection is not an error.
	if err := s.DeleteConnection(ctx, "C-1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestPutConnection_Replaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, uid := range []string{"user-1", "user-2"} {
		err := s.PutConnection(ctx, &Connection{
			ID:        "C-1",
			UserID:    uid,
			Kind:      KindClient,
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetConnection(ctx, "C-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "user-2" {
		t.Errorf("user = %q, want user-2", got.UserID)
	}
}

func TestListConnections(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	conns, err := s.ListConnections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 0 {
		t.Errorf("expected empty list, got %d", len(conns))
	}

	base := time.Now()
	for i, id := range []string{"C-1", "C-2", "C-3"} {
		err := s.PutConnection(ctx, &Connection{
			ID:        id,
			UserID:    "user-1",
			Kind:      KindClient,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	conns, err = s.ListConnections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 3 {
		t.Fatalf("len = %d, want 3", len(conns))
	}
	if conns[0].ID != "C-1" || conns[2].ID != "C-3" {
		t.Errorf("unexpected order: %v", conns)
	}
}

func TestConditionalAssignOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := &Presence{
		RobotID:      "robot-9",
		OwnerUserID:  "owner-1",
		ConnectionID: "R-1",
		Status:       StatusOnline,
		UpdatedAt:    time.Now(),
	}

	// First claim succeeds.
	if err := s.ConditionalAssignOwner(ctx, rec); err != nil {
		t.Fatal(err)
	}

	// Re-registration by the same owner succeeds and refreshes the record.
	rec2 := *rec
	rec2.ConnectionID = "R-2"
	if err := s.ConditionalAssignOwner(ctx, &rec2); err != nil {
		t.Fatalf("same-owner re-register: %v", err)
	}
	got, err := s.GetPresence(ctx, "robot-9")
	if err != nil {
		t.Fatal(err)
	}
	if got.ConnectionID != "R-2" {
		t.Errorf("connection = %q, want R-2", got.ConnectionID)
	}

	// A different owner is refused and the record is untouched.
	rec3 := *rec
	rec3.OwnerUserID = "owner-2"
	rec3.ConnectionID = "R-3"
	err = s.ConditionalAssignOwner(ctx, &rec3)
	if !errors.Is(err, ErrOwnershipConflict) {
		t.Fatalf("err = %v, want ErrOwnershipConflict", err)
	}
	got, err = s.GetPresence(ctx, "robot-9")
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerUserID != "owner-1" || got.ConnectionID != "R-2" {
		t.Errorf("record changed on conflict: %+v", got)
	}
}

func TestPutPresence_ForceClaim(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := &Presence{
		RobotID:      "robot-9",
		OwnerUserID:  "owner-1",
		ConnectionID: "R-1",
		Status:       StatusOnline,
		UpdatedAt:    time.Now(),
	}
	if err := s.ConditionalAssignOwner(ctx, first); err != nil {
		t.Fatal(err)
	}

	// Unconditional overwrite wins regardless of the stored owner.
	forced := &Presence{
		RobotID:      "robot-9",
		OwnerUserID:  "admin-1",
		ConnectionID: "R-2",
		Status:       StatusOnline,
		UpdatedAt:    time.Now(),
	}
	if err := s.PutPresence(ctx, forced); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPresence(ctx, "robot-9")
	if err != nil {
		t.Fatal(err)
	}
	if got.OwnerUserID != "admin-1" || got.ConnectionID != "R-2" {
		t.Errorf("got %+v", got)
	}
}

func TestGetPresence_Missing(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.GetPresence(context.Background(), "no-such-robot")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestMarkOfflineByConnection(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.PutPresence(ctx, &Presence{
		RobotID:      "robot-9",
		OwnerUserID:  "owner-1",
		ConnectionID: "R-1",
		Status:       StatusOnline,
		UpdatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// An unrelated connection going away must not touch the record.
	if err := s.MarkOfflineByConnection(ctx, "R-other"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetPresence(ctx, "robot-9")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusOnline {
		t.Fatalf("status = %q, want online", got.Status)
	}

	if err := s.MarkOfflineByConnection(ctx, "R-1"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetPresence(ctx, "robot-9")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusOffline {
		t.Errorf("status = %q, want offline", got.Status)
	}
	// Ownership survives the offline flip.
	if got.OwnerUserID != "owner-1" {
		t.Errorf("owner = %q, want owner-1", got.OwnerUserID)
	}
}

func TestListPresence(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"robot-b", "robot-a"} {
		err := s.PutPresence(ctx, &Presence{
			RobotID:      id,
			OwnerUserID:  "owner-1",
			ConnectionID: "R-1",
			Status:       StatusOnline,
			UpdatedAt:    time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.ListPresence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].RobotID != "robot-a" || records[1].RobotID != "robot-b" {
		t.Errorf("unexpected order: %v", records)
	}
}

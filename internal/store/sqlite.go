package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the
	// pool see the same data. Without this, each pooled connection gets a
	// separate empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read/write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			connection_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_groups TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'client',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_user_id ON connections(user_id)`,
		`CREATE TABLE IF NOT EXISTS presence (
			robot_id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'online',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_presence_owner ON presence(owner_user_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Connections ---

func (s *SQLiteStore) PutConnection(ctx context.Context, conn *Connection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (connection_id, user_id, user_groups, kind, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(connection_id) DO UPDATE SET user_id=excluded.user_id, user_groups=excluded.user_groups,
		   kind=excluded.kind, created_at=excluded.created_at`,
		conn.ID, conn.UserID, conn.Groups, conn.Kind, conn.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) GetConnection(ctx context.Context, connectionID string) (*Connection, error) {
	var c Connection
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT connection_id, user_id, user_groups, kind, created_at FROM connections WHERE connection_id = ?",
		connectionID,
	).Scan(&c.ID, &c.UserID, &c.Groups, &c.Kind, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	c.CreatedAt = time.UnixMilli(createdAt)
	return &c, err
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM connections WHERE connection_id = ?", connectionID)
	return err
}

func (s *SQLiteStore) ListConnections(ctx context.Context) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT connection_id, user_id, user_groups, kind, created_at FROM connections ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var c Connection
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Groups, &c.Kind, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = time.UnixMilli(createdAt)
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// --- Presence ---

func (s *SQLiteStore) ConditionalAssignOwner(ctx context.Context, rec *Presence) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO presence (robot_id, owner_user_id, connection_id, status, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(robot_id) DO UPDATE SET owner_user_id=excluded.owner_user_id,
		   connection_id=excluded.connection_id, status=excluded.status, updated_at=excluded.updated_at
		 WHERE presence.owner_user_id = excluded.owner_user_id`,
		rec.RobotID, rec.OwnerUserID, rec.ConnectionID, rec.Status, rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOwnershipConflict
	}
	return nil
}

func (s *SQLiteStore) PutPresence(ctx context.Context, rec *Presence) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presence (robot_id, owner_user_id, connection_id, status, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(robot_id) DO UPDATE SET owner_user_id=excluded.owner_user_id,
		   connection_id=excluded.connection_id, status=excluded.status, updated_at=excluded.updated_at`,
		rec.RobotID, rec.OwnerUserID, rec.ConnectionID, rec.Status, rec.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) GetPresence(ctx context.Context, robotID string) (*Presence, error) {
	var p Presence
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT robot_id, owner_user_id, connection_id, status, updated_at FROM presence WHERE robot_id = ?",
		robotID,
	).Scan(&p.RobotID, &p.OwnerUserID, &p.ConnectionID, &p.Status, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, err
}

func (s *SQLiteStore) MarkOfflineByConnection(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE presence SET status = ?, updated_at = ? WHERE connection_id = ?",
		StatusOffline, time.Now().UnixMilli(), connectionID,
	)
	return err
}

func (s *SQLiteStore) ListPresence(ctx context.Context) ([]Presence, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT robot_id, owner_user_id, connection_id, status, updated_at FROM presence ORDER BY robot_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Presence
	for rows.Next() {
		var p Presence
		var updatedAt int64
		if err := rows.Scan(&p.RobotID, &p.OwnerUserID, &p.ConnectionID, &p.Status, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.UnixMilli(updatedAt)
		records = append(records, p)
	}
	return records, rows.Err()
}

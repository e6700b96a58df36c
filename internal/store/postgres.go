package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			connection_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_groups TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'client',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_user_id ON connections(user_id)`,
		`CREATE TABLE IF NOT EXISTS presence (
			robot_id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'online',
			updated_at BIGINT NOT NULL
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Connections ---

func (s *PostgresStore) PutConnection(ctx context.Context, conn *Connection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (connection_id, user_id, user_groups, kind, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT(connection_id) DO UPDATE SET user_id=excluded.user_id, user_groups=excluded.user_groups,
		   kind=excluded.kind, created_at=excluded.created_at`,
		conn.ID, conn.UserID, conn.Groups, conn.Kind, conn.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *PostgresStore) GetConnection(ctx context.Context, connectionID string) (*Connection, error) {
	var c Connection
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT connection_id, user_id, user_groups, kind, created_at FROM connections WHERE connection_id = $1",
		connectionID,
	).Scan(&c.ID, &c.UserID, &c.Groups, &c.Kind, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	c.CreatedAt = time.UnixMilli(createdAt)
	return &c, err
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM connections WHERE connection_id = $1", connectionID)
	return err
}

func (s *PostgresStore) ListConnections(ctx context.Context) ([]Connection, error) {
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

func (s *PostgresStore) ConditionalAssignOwner(ctx context.Context, rec *Presence) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO presence (robot_id, owner_user_id, connection_id, status, updated_at) VALUES ($1, $2, $3, $4, $5)
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

func (s *PostgresStore) PutPresence(ctx context.Context, rec *Presence) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presence (robot_id, owner_user_id, connection_id, status, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT(robot_id) DO UPDATE SET owner_user_id=excluded.owner_user_id,
		   connection_id=excluded.connection_id, status=excluded.status, updated_at=excluded.updated_at`,
		rec.RobotID, rec.OwnerUserID, rec.ConnectionID, rec.Status, rec.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *PostgresStore) GetPresence(ctx context.Context, robotID string) (*Presence, error) {
	var p Presence
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT robot_id, owner_user_id, connection_id, status, updated_at FROM presence WHERE robot_id = $1",
		robotID,
	).Scan(&p.RobotID, &p.OwnerUserID, &p.ConnectionID, &p.Status, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, err
}

func (s *PostgresStore) MarkOfflineByConnection(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE presence SET status = $1, updated_at = $2 WHERE connection_id = $3",
		StatusOffline, time.Now().UnixMilli(), connectionID,
	)
	return err
}

func (s *PostgresStore) ListPresence(ctx context.Context) ([]Presence, error) {
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

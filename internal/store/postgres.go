package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore indexes session identities in PostgreSQL so multiple gateway
// replicas can share one view of which sessions exist. Credential
// directories stay on the local filesystem: the automation client needs a
// local profile directory either way.
type PostgresStore struct {
	fs   *FSStore
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dir, databaseURL string) (*PostgresStore, error) {
	fs, err := NewFSStore(dir)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{fs: fs, pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS wagate_sessions (
			id TEXT PRIMARY KEY,
			webhook_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_wagate_sessions_created ON wagate_sessions (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Ensure(ctx context.Context, ident Identity) error {
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(s.fs.CredentialDir(ident.ID), 0o755); err != nil {
		return fmt.Errorf("create credential dir for %s: %w", ident.ID, err)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wagate_sessions (id, webhook_url, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET webhook_url = EXCLUDED.webhook_url`,
		ident.ID, ident.WebhookURL, ident.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("persist identity %s: %w", ident.ID, err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, id string) (Identity, error) {
	var ident Identity
	err := s.pool.QueryRow(ctx,
		`SELECT id, webhook_url, created_at FROM wagate_sessions WHERE id=$1`, id,
	).Scan(&ident.ID, &ident.WebhookURL, &ident.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrUnknownIdentity
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup identity %s: %w", id, err)
	}
	return ident, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM wagate_sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM wagate_sessions WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete identity %s: %w", id, err)
	}
	return s.fs.Remove(ctx, id)
}

func (s *PostgresStore) CredentialDir(id string) string {
	return s.fs.CredentialDir(id)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

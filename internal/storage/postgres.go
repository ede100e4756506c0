package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresChannelStore keeps channel definitions in PostgreSQL so every relay
// of a site shares the same set.
type PostgresChannelStore struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresChannelStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	s := NewPostgresChannelStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewPostgresChannelStore wraps an open handle.
func NewPostgresChannelStore(db *sql.DB) *PostgresChannelStore {
	return &PostgresChannelStore{db: db}
}

func (s *PostgresChannelStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS mesh_channels (
		name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		password_protected BOOLEAN NOT NULL DEFAULT FALSE,
		message_retention BOOLEAN NOT NULL DEFAULT FALSE,
		password_hash TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

func (s *PostgresChannelStore) SaveChannel(ctx context.Context, rec ChannelRecord) error {
	var hash sql.NullString
	if len(rec.PasswordHash) > 0 {
		hash = sql.NullString{String: string(rec.PasswordHash), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mesh_channels (name, owner, password_protected, message_retention, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			owner = EXCLUDED.owner,
			password_protected = EXCLUDED.password_protected,
			message_retention = EXCLUDED.message_retention,
			password_hash = EXCLUDED.password_hash
	`, rec.Name, rec.Owner, rec.PasswordProtected, rec.MessageRetention, hash)
	if err != nil {
		return fmt.Errorf("save channel %s: %w", rec.Name, err)
	}
	return nil
}

func (s *PostgresChannelStore) LoadChannels(ctx context.Context) ([]ChannelRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, owner, password_protected, message_retention, password_hash, created_at
		FROM mesh_channels
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	defer rows.Close()
	var out []ChannelRecord
	for rows.Next() {
		var (
			rec  ChannelRecord
			hash sql.NullString
		)
		if err := rows.Scan(&rec.Name, &rec.Owner, &rec.PasswordProtected, &rec.MessageRetention, &hash, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		if hash.Valid {
			rec.PasswordHash = []byte(hash.String)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresChannelStore) Close() error {
	return s.db.Close()
}

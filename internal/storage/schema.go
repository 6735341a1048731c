package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pass_latest (
		device     TEXT PRIMARY KEY,
		pass_at    TIMESTAMPTZ NOT NULL,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS pass_history (
		id      BIGSERIAL PRIMARY KEY,
		device  TEXT NOT NULL,
		pass_at TIMESTAMPTZ NOT NULL,
		failed  INTEGER NOT NULL DEFAULT 0,
		payload JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pass_history_device_id_idx ON pass_history (device, id DESC)`,
	`CREATE TABLE IF NOT EXISTS device_definitions (
		id         UUID PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		definition JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables if they are missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

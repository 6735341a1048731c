package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
)

// SaveDefinition inserts or replaces the definition stored under its name.
func (p *PostgresClient) SaveDefinition(ctx context.Context, def types.StoredDefinition) error {
	defJSON, err := json.Marshal(def.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO device_definitions (id, name, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (name)
		DO UPDATE SET
			id = EXCLUDED.id,
			definition = EXCLUDED.definition,
			updated_at = NOW()
	`, def.ID, def.Definition.Name, defJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert definition: %w", err)
	}

	return nil
}

// ListDefinitionRecords returns the raw rows ordered by name.
func (p *PostgresClient) ListDefinitionRecords(ctx context.Context) ([]DefinitionRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, definition, created_at, updated_at
		FROM device_definitions
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer rows.Close()

	records := make([]DefinitionRecord, 0)
	for rows.Next() {
		var r DefinitionRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Definition, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	return records, nil
}

func (p *PostgresClient) LoadDefinitions(ctx context.Context) ([]types.StoredDefinition, error) {
	records, err := p.ListDefinitionRecords(ctx)
	if err != nil {
		return nil, err
	}

	defs := make([]types.StoredDefinition, 0, len(records))
	for _, r := range records {
		var def types.DeviceDefinition
		if err := json.Unmarshal(r.Definition, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal definition %s: %w", r.Name, err)
		}
		defs = append(defs, types.StoredDefinition{ID: r.ID, Definition: def})
	}
	return defs, nil
}

// DeleteDefinition removes the definition and recorded passes of a device.
// Deleting an unknown name is not an error.
func (p *PostgresClient) DeleteDefinition(ctx context.Context, name string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM device_definitions WHERE name = $1`,
		`DELETE FROM pass_latest WHERE device = $1`,
		`DELETE FROM pass_history WHERE device = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, name); err != nil {
			return fmt.Errorf("failed to delete device %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

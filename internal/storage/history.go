package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
	"github.com/jackc/pgx/v5"
)

// Publish stores a pass as the device's latest and appends it to the
// history, trimming the history to the configured cap.
func (p *PostgresClient) Publish(ctx context.Context, pass types.PassResult) error {
	payload, err := json.Marshal(pass)
	if err != nil {
		return fmt.Errorf("failed to marshal pass: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO pass_latest (device, pass_at, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (device)
		DO UPDATE SET
			pass_at = EXCLUDED.pass_at,
			payload = EXCLUDED.payload,
			updated_at = NOW()
	`, pass.DeviceID, pass.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("failed to upsert latest pass: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pass_history (device, pass_at, failed, payload)
		VALUES ($1, $2, $3, $4)
	`, pass.DeviceID, pass.Timestamp, pass.Failures(), payload)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM pass_history
		WHERE device = $1 AND id NOT IN (
			SELECT id FROM pass_history
			WHERE device = $1
			ORDER BY id DESC
			LIMIT $2
		)
	`, pass.DeviceID, p.historyLimit)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *PostgresClient) Latest(ctx context.Context, device string) (types.PassResult, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `
		SELECT payload FROM pass_latest WHERE device = $1
	`, device).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.PassResult{}, fmt.Errorf("%w: %s", ErrNoData, device)
	}
	if err != nil {
		return types.PassResult{}, fmt.Errorf("failed to query latest pass: %w", err)
	}

	var pass types.PassResult
	if err := json.Unmarshal(payload, &pass); err != nil {
		return types.PassResult{}, fmt.Errorf("failed to unmarshal pass: %w", err)
	}
	return pass, nil
}

func (p *PostgresClient) History(ctx context.Context, device string, limit int) ([]types.PassResult, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT payload FROM pass_history
		WHERE device = $1
		ORDER BY id DESC
		LIMIT $2
	`, device, queryLimit(limit, p.historyLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	passes := make([]types.PassResult, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		var pass types.PassResult
		if err := json.Unmarshal(payload, &pass); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pass: %w", err)
		}
		passes = append(passes, pass)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	return passes, nil
}

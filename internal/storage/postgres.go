package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/ModbusMonitor/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	pool         *pgxpool.Pool
	historyLimit int
}

func NewPostgresClient(cfg config.DatabaseConfig, historyLimit int) (*PostgresClient, error) {
	return Open(context.Background(), cfg.DSN(), cfg.MaxConnections, historyLimit)
}

// Open connects to dsn and makes sure the schema exists.
func Open(ctx context.Context, dsn string, maxConns, historyLimit int) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if historyLimit <= 0 {
		historyLimit = 1000
	}
	client := &PostgresClient{pool: pool, historyLimit: historyLimit}

	if err := client.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return client, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

package storage

import (
	"context"
	"errors"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
)

// DefaultQueryLimit is used when a history query passes no limit.
const DefaultQueryLimit = 100

var ErrNoData = errors.New("no data recorded for device")

// Reader serves stored passes to the outer surfaces.
type Reader interface {
	Latest(ctx context.Context, device string) (types.PassResult, error)
	// History returns up to limit passes, newest first.
	History(ctx context.Context, device string, limit int) ([]types.PassResult, error)
}

// Store is a pass sink that can also be read back.
type Store interface {
	Reader
	Publish(ctx context.Context, pass types.PassResult) error
}

func queryLimit(limit, stored int) int {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if stored >= 0 && limit > stored {
		limit = stored
	}
	return limit
}

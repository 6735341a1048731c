package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/KevinKickass/ModbusMonitor/internal/types"
)

type deviceLog struct {
	latest  types.PassResult
	history []types.PassResult // oldest first
}

// MemoryStore keeps the latest pass and a capped history per device.
type MemoryStore struct {
	limit int

	mu      sync.RWMutex
	devices map[string]*deviceLog
}

func NewMemoryStore(historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &MemoryStore{
		limit:   historyLimit,
		devices: make(map[string]*deviceLog),
	}
}

func (s *MemoryStore) Publish(_ context.Context, pass types.PassResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.devices[pass.DeviceID]
	if !ok {
		log = &deviceLog{}
		s.devices[pass.DeviceID] = log
	}

	log.latest = pass
	log.history = append(log.history, pass)
	if over := len(log.history) - s.limit; over > 0 {
		// evict oldest in place
		n := copy(log.history, log.history[over:])
		clear(log.history[n:])
		log.history = log.history[:n]
	}
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, device string) (types.PassResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.devices[device]
	if !ok {
		return types.PassResult{}, fmt.Errorf("%w: %s", ErrNoData, device)
	}
	return log.latest, nil
}

func (s *MemoryStore) History(_ context.Context, device string, limit int) ([]types.PassResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.devices[device]
	if !ok {
		return []types.PassResult{}, nil
	}

	n := queryLimit(limit, len(log.history))
	out := make([]types.PassResult, 0, n)
	for i := len(log.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, log.history[i])
	}
	return out, nil
}

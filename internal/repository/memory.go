package repository

import (
	"context"
	"sync"
)

// MemoryOffsetRepository keeps consumer offsets in process memory.
// Used standalone in tests and as the failover fallback in production.
type MemoryOffsetRepository struct {
	mu      sync.RWMutex
	offsets map[string]int64
}

func NewMemoryOffsetRepository() *MemoryOffsetRepository {
	return &MemoryOffsetRepository{offsets: make(map[string]int64)}
}

func (r *MemoryOffsetRepository) GetOffset(_ context.Context, consumer string) (int64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seq, ok := r.offsets[consumer]
	return seq, ok, nil
}

func (r *MemoryOffsetRepository) SetOffset(_ context.Context, consumer string, seq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Offsets only move forward; a stale ack after a resume must not
	// rewind the consumer.
	if current, ok := r.offsets[consumer]; ok && current > seq {
		return nil
	}
	r.offsets[consumer] = seq
	return nil
}

func (r *MemoryOffsetRepository) ClearOffset(_ context.Context, consumer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.offsets, consumer)
	return nil
}

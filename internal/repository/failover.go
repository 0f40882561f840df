package repository

import (
	"context"
	"sync/atomic"
	"time"

	"rsvp/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverOffsetRepository serves offsets from the primary (Redis) and
// falls back to the in-memory repository when it errors, probing the
// primary again after a cooldown. Losing Redis degrades durability of
// consumer offsets, not correctness: a consumer at worst replays.
type FailoverOffsetRepository struct {
	primary   domain.OffsetRepository
	fallback  domain.OffsetRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos
}

const recoveryProbeInterval = time.Minute

func NewFailoverOffsetRepository(primary, fallback domain.OffsetRepository, logger *zerolog.Logger) *FailoverOffsetRepository {
	return &FailoverOffsetRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverOffsetRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary offset repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverOffsetRepository) shouldProbe() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryProbeInterval
}

func (r *FailoverOffsetRepository) GetOffset(ctx context.Context, consumer string) (int64, bool, error) {
	if !r.isDown.Load() {
		seq, ok, err := r.primary.GetOffset(ctx, consumer)
		if err == nil {
			return seq, ok, nil
		}
		r.markDown(err)
	} else if r.shouldProbe() {
		seq, ok, err := r.primary.GetOffset(ctx, consumer)
		if err == nil {
			r.isDown.Store(false)
			return seq, ok, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.GetOffset(ctx, consumer)
}

func (r *FailoverOffsetRepository) SetOffset(ctx context.Context, consumer string, seq int64) error {
	if !r.isDown.Load() {
		err := r.primary.SetOffset(ctx, consumer, seq)
		if err == nil {
			// Mirror into the fallback so a later failover resumes close
			// to the real position.
			_ = r.fallback.SetOffset(ctx, consumer, seq)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SetOffset(ctx, consumer, seq)
}

func (r *FailoverOffsetRepository) ClearOffset(ctx context.Context, consumer string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearOffset(ctx, consumer)
		if err == nil {
			_ = r.fallback.ClearOffset(ctx, consumer)
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.ClearOffset(ctx, consumer)
}

package domain

import (
	"context"

	"rsvp/internal/models"
)

// ChangeLog is the durable, ordered record of reservation mutations.
// The store implements it; the feed dispatcher consumes it.
type ChangeLog interface {
	ChangesSince(ctx context.Context, seq int64, limit int) ([]models.Change, error)
	LatestSequence(ctx context.Context) (int64, error)
}

// OffsetRepository persists the last sequence a named consumer has
// acknowledged, so a reconnect resumes without gaps. The second return
// of GetOffset distinguishes "no offset stored" from offset zero.
type OffsetRepository interface {
	GetOffset(ctx context.Context, consumer string) (int64, bool, error)
	SetOffset(ctx context.Context, consumer string, seq int64) error
	ClearOffset(ctx context.Context, consumer string) error
}

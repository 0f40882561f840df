package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rsvp/internal/models"
)

// appendChange writes one change entry inside the caller's transaction.
// The sequence is assigned by the database, so a rolled-back mutation
// leaves no entry and no gap.
func appendChange(ctx context.Context, tx *sql.Tx, reservationID int64, op string) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO reservation_changes (reservation_id, operation, created_at) VALUES (?, ?, ?)`,
		reservationID, op, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append change: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get change sequence: %w", err)
	}
	return seq, nil
}

// ChangesSince returns up to limit change entries with sequence strictly
// greater than seq, in sequence order. Catch-up readers call it
// repeatedly until it comes back empty.
func (s *Store) ChangesSince(ctx context.Context, seq int64, limit int) ([]models.Change, error) {
	if limit <= 0 {
		limit = models.DefaultCatchupBatch
	}

	rows, err := s.QueryContext(ctx,
		`SELECT sequence, reservation_id, operation, created_at
         FROM reservation_changes WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`,
		seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read changes: %w", err)
	}
	defer rows.Close()

	var changes []models.Change
	for rows.Next() {
		var c models.Change
		if err := rows.Scan(&c.Sequence, &c.ReservationID, &c.Operation, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}

// LatestSequence returns the current tail of the change log, 0 when empty.
func (s *Store) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM reservation_changes`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest sequence: %w", err)
	}
	return seq, nil
}

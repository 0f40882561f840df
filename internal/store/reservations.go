package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rsvp/internal/interval"
	"rsvp/internal/models"
)

// Reserve validates the window, checks it against the resource's active
// set and, when free, persists the row together with its create change
// entry. On conflict nothing is written and the blocking reservation id
// is returned inside ConflictError.
func (s *Store) Reserve(ctx context.Context, r *models.Reservation) error {
	w := interval.Window{Start: r.Start.UTC(), End: r.End.UTC()}
	if !w.Valid() {
		return ErrInvalidWindow
	}
	if r.Status == models.StatusUnknown {
		r.Status = models.StatusPending
	}
	if !models.ValidPersistedStatus(r.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}

	if err := s.locks.acquire(ctx, r.ResourceID, s.lockWait); err != nil {
		return err
	}
	defer s.locks.release(r.ResourceID)

	if existingID, conflict := s.index.Conflict(r.ResourceID, w); conflict {
		return &ConflictError{ExistingID: existingID, ResourceID: r.ResourceID, Window: w}
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (user_id, resource_id, start_at, end_at, status, note, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.ResourceID, w.Start.UnixNano(), w.End.UnixNano(), r.Status, r.Note, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	seq, err := appendChange(ctx, tx, id, models.OpCreate)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	// The lock is still held, so the insert cannot race another writer.
	s.index.TestAndInsert(r.ResourceID, id, w)

	r.ID = id
	r.Start = w.Start
	r.End = w.End
	r.CreatedAt = now
	r.UpdatedAt = now
	r.LastChangeSeq = seq

	return nil
}

// Block occupies a window without a booking: external maintenance holds,
// cleaning slots and the like. The row participates in the exclusion
// invariant exactly like a pending reservation.
func (s *Store) Block(ctx context.Context, userID, resourceID string, w interval.Window, note string) (*models.Reservation, error) {
	r := &models.Reservation{
		UserID:     userID,
		ResourceID: resourceID,
		Start:      w.Start,
		End:        w.End,
		Status:     models.StatusBlocked,
		Note:       note,
	}
	if err := s.Reserve(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Confirm moves a pending reservation to confirmed and logs an update
// change. Any other current status is an invalid transition.
func (s *Store) Confirm(ctx context.Context, id int64) (*models.Reservation, error) {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.StatusConfirmed, now, id, models.StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm reservation: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read reservation status: %w", err)
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.StatusConfirmed)
	}

	seq, err := appendChange(ctx, tx, id, models.OpUpdate)
	if err != nil {
		return nil, err
	}

	r, err := getReservationTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirm: %w", err)
	}

	r.LastChangeSeq = seq
	return r, nil
}

// UpdateNote replaces the note only. Status and window are untouched, so
// no change entry is appended (the log records status-affecting mutations).
func (s *Store) UpdateNote(ctx context.Context, id int64, note string) (*models.Reservation, error) {
	result, err := s.ExecContext(ctx,
		`UPDATE reservations SET note = ?, updated_at = ? WHERE id = ?`,
		note, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, ErrNotFound
	}

	return s.Get(ctx, id)
}

// Cancel removes a pending or confirmed reservation from the active set,
// deletes the row and logs a delete change. Cancelling an unknown or
// already-cancelled id is NotFound; blocked rows are managed by Unblock.
func (s *Store) Cancel(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.remove(ctx, id, models.StatusPending, models.StatusConfirmed)
}

// Unblock releases a window previously occupied by Block.
func (s *Store) Unblock(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.remove(ctx, id, models.StatusBlocked)
}

func (s *Store) remove(ctx context.Context, id int64, allowed ...string) (*models.Reservation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	permitted := false
	for _, status := range allowed {
		if r.Status == status {
			permitted = true
			break
		}
	}
	if !permitted {
		return nil, fmt.Errorf("%w: cannot remove %s reservation %d", ErrInvalidTransition, r.Status, id)
	}

	if err := s.locks.acquire(ctx, r.ResourceID, s.lockWait); err != nil {
		return nil, err
	}
	defer s.locks.release(r.ResourceID)

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ? AND status = ?`, id, r.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to delete reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Lost a race with a concurrent cancel or status change.
		return nil, ErrNotFound
	}

	seq, err := appendChange(ctx, tx, id, models.OpDelete)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	s.index.Remove(r.ResourceID, id)
	r.LastChangeSeq = seq
	return r, nil
}

// Get returns a reservation by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	row := s.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

func getReservationTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Reservation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

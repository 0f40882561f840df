package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"rsvp/internal/models"
)

// ReservationQuery selects reservations whose window lies entirely inside
// [Start, End). Containment, not overlap: a reservation sticking out of
// the query window is excluded even though the two windows intersect.
// Empty string fields are wildcards; zero times mean unbounded.
type ReservationQuery struct {
	ResourceID string
	UserID     string
	Status     string
	Start      time.Time
	End        time.Time
}

// Query returns matching reservations ordered by window start ascending.
// Filters compose conjunctively through bound parameters, never through
// string interpolation of values.
func (s *Store) Query(ctx context.Context, q ReservationQuery) ([]*models.Reservation, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if q.ResourceID != "" {
		conditions = append(conditions, "resource_id = ?")
		args = append(args, q.ResourceID)
	}
	if q.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Status != models.StatusUnknown {
		conditions = append(conditions, "status = ?")
		args = append(args, q.Status)
	}
	if !q.Start.IsZero() {
		conditions = append(conditions, "start_at >= ?")
		args = append(args, q.Start.UTC().UnixNano())
	}
	if !q.End.IsZero() {
		conditions = append(conditions, "end_at <= ?")
		args = append(args, q.End.UTC().UnixNano())
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY start_at ASC`

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reservations, nil
}

// ReservationFilter is an identity/status browser over reservations,
// keyset-paginated by id. It ignores time windows entirely.
type ReservationFilter struct {
	ResourceID string
	UserID     string
	Status     string
	Cursor     *int64
	Desc       bool
	PageSize   int
	WithTotal  bool
}

// Pager carries the cursors for the surrounding pages. Nil means the page
// does not exist; Total is filled only when the filter asked for it.
type Pager struct {
	Prev  *int64 `json:"prev,omitempty"`
	Next  *int64 `json:"next,omitempty"`
	Total *int64 `json:"total,omitempty"`
}

// Normalize clamps the page size into [MinPageSize, MaxPageSize] and
// rejects negative cursors.
func (f *ReservationFilter) Normalize() error {
	if f.PageSize <= 0 {
		f.PageSize = models.DefaultPageSize
	}
	if f.PageSize < models.MinPageSize {
		f.PageSize = models.MinPageSize
	}
	if f.PageSize > models.MaxPageSize {
		f.PageSize = models.MaxPageSize
	}
	if f.Cursor != nil && *f.Cursor < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCursor, *f.Cursor)
	}
	return nil
}

// cursorOrDefault returns the exclusive boundary: 0 when paging up,
// the maximum id when paging down.
func (f *ReservationFilter) cursorOrDefault() int64 {
	if f.Cursor != nil {
		return *f.Cursor
	}
	if f.Desc {
		return math.MaxInt64
	}
	return 0
}

// Filter fetches one page plus a lookahead row to decide whether a next
// page exists.
func (s *Store) Filter(ctx context.Context, f ReservationFilter) ([]*models.Reservation, *Pager, error) {
	if err := f.Normalize(); err != nil {
		return nil, nil, err
	}

	conditions := []string{"1=1"}
	var args []interface{}

	if f.ResourceID != "" {
		conditions = append(conditions, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != models.StatusUnknown {
		conditions = append(conditions, "status = ?")
		args = append(args, f.Status)
	}

	where := strings.Join(conditions, " AND ")

	order := "ASC"
	cursorCond := "id > ?"
	if f.Desc {
		order = "DESC"
		cursorCond = "id < ?"
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE ` + where +
		` AND ` + cursorCond + ` ORDER BY id ` + order + ` LIMIT ?`
	pageArgs := append(append([]interface{}{}, args...), f.cursorOrDefault(), f.PageSize+1)

	rows, err := s.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to filter reservations: %w", err)
	}
	defer rows.Close()

	var page []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	pager := &Pager{}

	if len(page) > f.PageSize {
		page = page[:f.PageSize]
		next := page[len(page)-1].ID
		pager.Next = &next
	}

	// A cursor means the caller came from somewhere: the first row of this
	// page is the boundary for walking back with the direction flipped.
	if f.Cursor != nil && len(page) > 0 {
		prev := page[0].ID
		pager.Prev = &prev
	}

	if f.WithTotal {
		countQuery := `SELECT COUNT(*) FROM reservations WHERE ` + where
		var total int64
		if err := s.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return nil, nil, fmt.Errorf("failed to count reservations: %w", err)
		}
		pager.Total = &total
	}

	return page, pager, nil
}

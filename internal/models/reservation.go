package models

import "time"

type Reservation struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	ResourceID string    `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Status     string    `json:"status"` // pending, confirmed, blocked
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// LastChangeSeq is the change-log sequence appended by the mutation
	// that produced this value. Not persisted on the row.
	LastChangeSeq int64 `json:"-"`
}

// Active reports whether the reservation holds its window against new
// bookings. Blocked rows count: a block exists precisely to keep the
// window occupied.
func (r *Reservation) Active() bool {
	switch r.Status {
	case StatusPending, StatusConfirmed, StatusBlocked:
		return true
	}
	return false
}

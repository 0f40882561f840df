package models

import "time"

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Change is one entry of the append-only reservation change log.
// Sequence numbers are assigned at append time and never reused.
type Change struct {
	Sequence      int64     `json:"sequence"`
	ReservationID int64     `json:"reservation_id"`
	Operation     string    `json:"operation"` // create, update, delete
	CreatedAt     time.Time `json:"created_at"`
}

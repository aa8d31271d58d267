package domain

import (
	"time"

	"github.com/google/uuid"
)

// Key is a single activation token.
//
// IsAssigned means "terminally consumed by a child activation". A key that has
// merely moved down the hierarchy is identified by CurrentOwner alone and
// remains transferable. AssignedTo, AssignedAt and ValidUntil are written
// exactly once, when the key is consumed.
type Key struct {
	ID           uuid.UUID  `json:"id"`
	Token        string     `json:"token"` // unique fixed-length hex
	CurrentOwner uuid.UUID  `json:"current_owner"`
	IsAssigned   bool       `json:"is_assigned"`
	AssignedTo   *uuid.UUID `json:"assigned_to,omitempty"` // child the key was consumed by
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	ValidUntil   time.Time  `json:"valid_until"`
	GeneratedBy  uuid.UUID  `json:"generated_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Available reports whether the key still sits in its owner's transferable pool.
func (k *Key) Available() bool {
	return !k.IsAssigned
}

// DaysRemaining is the number of whole days until the key expires, floored at zero.
func (k *Key) DaysRemaining(now time.Time) int {
	if !now.Before(k.ValidUntil) {
		return 0
	}
	return int(k.ValidUntil.Sub(now).Hours() / 24)
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Child is a monitored device profile activated by a parent. KeyID references
// the key consumed by the activation.
type Child struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Age        int       `json:"age"`
	DeviceIMEI *string   `json:"device_imei,omitempty"`
	ParentID   uuid.UUID `json:"parent_id"`
	KeyID      uuid.UUID `json:"key_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

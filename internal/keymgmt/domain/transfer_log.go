package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransferStatus is the recorded outcome of a transfer.
type TransferStatus string

const (
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusFailed    TransferStatus = "failed"
)

// TransferType classifies how keys changed hands.
type TransferType string

const (
	TransferTypeBulk     TransferType = "bulk"     // batch move down the hierarchy
	TransferTypeRegular  TransferType = "regular"  // single-key hand-off (retailer -> parent)
	TransferTypeReceive  TransferType = "receive"  // reclaim into the admin pool
	TransferTypeActivate TransferType = "activate" // terminal consumption by a child
)

// TransferLog is an immutable audit record of one completed ownership change.
// Entries are written once inside the same transaction as the change they
// describe and are never updated.
type TransferLog struct {
	ID        uuid.UUID      `json:"id"`
	FromUser  uuid.UUID      `json:"from_user"`
	ToUser    uuid.UUID      `json:"to_user"`
	Count     int            `json:"count"`
	Date      time.Time      `json:"date"`
	Status    TransferStatus `json:"status"`
	Type      TransferType   `json:"type"`
	Notes     string         `json:"notes,omitempty"`
	Reference string         `json:"reference,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the state of a key request. pending is the only state with
// outgoing transitions; approved and denied are terminal.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusDenied   RequestStatus = "denied"
)

// KeyRequest is a parent's solicitation for one key from a retailer.
// ToRetailer may be nil at creation and is adopted by whichever retailer
// resolves the request. AssignedKey is set when an approval claims a key.
type KeyRequest struct {
	ID              uuid.UUID     `json:"id"`
	FromParent      uuid.UUID     `json:"from_parent"`
	ToRetailer      *uuid.UUID    `json:"to_retailer,omitempty"`
	Message         string        `json:"message,omitempty"`
	Status          RequestStatus `json:"status"`
	ResponseMessage string        `json:"response_message,omitempty"`
	AssignedKey     *uuid.UUID    `json:"assigned_key,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

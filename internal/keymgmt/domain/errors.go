package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the key management core. The transport layer maps these to
// HTTP statuses with errors.Is; nothing below the boundary swallows them.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrAccessDenied          = errors.New("access denied")
	ErrNotFound              = errors.New("resource not found")
	ErrInsufficientInventory = errors.New("insufficient key inventory")
	ErrConflict              = errors.New("conflict")
	ErrInternal              = errors.New("internal error")
)

// Specific conditions, wrapped so callers can match either the broad class or
// the exact cause.
var (
	ErrAccountNotFound = fmt.Errorf("%w: account", ErrNotFound)
	ErrKeyNotFound     = fmt.Errorf("%w: key", ErrNotFound)
	ErrRequestNotFound = fmt.Errorf("%w: key request", ErrNotFound)
	ErrChildNotFound   = fmt.Errorf("%w: child", ErrNotFound)

	// ErrRequestAlreadyResolved trips when the pending -> approved/denied
	// compare-and-swap finds the request already resolved by a racing caller.
	ErrRequestAlreadyResolved = fmt.Errorf("%w: key request already resolved", ErrConflict)

	// ErrKeyNotAvailable trips when a named key exists but is consumed or owned
	// by someone else.
	ErrKeyNotAvailable = fmt.Errorf("%w: key is not available", ErrConflict)

	ErrDuplicateEntry = fmt.Errorf("%w: duplicate entry", ErrConflict)
	ErrDuplicateToken = fmt.Errorf("%w: duplicate key token", ErrConflict)

	ErrInvalidCredentials = errors.New("invalid email or password")
)

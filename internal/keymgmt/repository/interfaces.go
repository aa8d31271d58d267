package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
)

// Querier is the common surface of pgxpool.Pool and pgx.Tx. Repository methods
// take it explicitly so the same method runs standalone or inside a
// transaction opened by TxManager.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager runs fn inside a database transaction. fn returning an error rolls
// everything back; this is what makes multi-step mutations all-or-nothing.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(q Querier) error) error
}

// AccountRepository persists hierarchy accounts and their ledger counters.
// Counter mutations are expressed as atomic SQL increments, never read-modify-write.
type AccountRepository interface {
	Create(ctx context.Context, q Querier, account *domain.Account) error
	GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Account, error)
	GetByEmail(ctx context.Context, q Querier, email string) (*domain.Account, error)
	ListByCreator(ctx context.Context, q Querier, creatorID uuid.UUID) ([]*domain.Account, error)
	IncrementReceived(ctx context.Context, q Querier, id uuid.UUID, n int) error
	IncrementTransferred(ctx context.Context, q Querier, id uuid.UUID, n int) error
	// IncrementGenerated bumps total_generated and received_keys together:
	// minted keys enter the admin's own pool.
	IncrementGenerated(ctx context.Context, q Querier, id uuid.UUID, n int) error
	UpdateRefreshTokenHash(ctx context.Context, q Querier, id uuid.UUID, hash *string) error
	Delete(ctx context.Context, q Querier, id uuid.UUID) error
}

// KeyRepository persists activation keys. The Move*/Consume* methods are the
// gate operations of the system: single conditional UPDATEs that both check and
// mutate state in one indivisible step.
type KeyRepository interface {
	Create(ctx context.Context, q Querier, key *domain.Key) error
	GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Key, error)
	GetByToken(ctx context.Context, q Querier, token string) (*domain.Key, error)
	ListByOwner(ctx context.Context, q Querier, owner uuid.UUID, onlyAvailable bool) ([]*domain.Key, error)
	CountAvailable(ctx context.Context, q Querier, owner uuid.UUID) (int, error)
	// MoveBatch reassigns up to count of the oldest available keys owned by
	// `from` to `to`, returning how many were actually claimed.
	MoveBatch(ctx context.Context, q Querier, from, to uuid.UUID, count int) (int, error)
	// MoveSpecific reassigns one named key, only if it is available and owned
	// by `from`. Fails with ErrKeyNotFound / ErrKeyNotAvailable otherwise.
	MoveSpecific(ctx context.Context, q Querier, keyID, from, to uuid.UUID) (*domain.Key, error)
	// MoveOldest reassigns the oldest available key owned by `from`, or fails
	// with ErrInsufficientInventory.
	MoveOldest(ctx context.Context, q Querier, from, to uuid.UUID) (*domain.Key, error)
	// ConsumeOldest terminally assigns the parent's oldest available key to a
	// child, or fails with ErrInsufficientInventory.
	ConsumeOldest(ctx context.Context, q Querier, owner, childID uuid.UUID, assignedAt, validUntil time.Time) (*domain.Key, error)
	// ReclaimFromOwner returns every un-consumed key owned by `owner` to its
	// minting admin, reporting reclaimed counts per admin.
	ReclaimFromOwner(ctx context.Context, q Querier, owner uuid.UUID) (map[uuid.UUID]int, error)
}

// TransferLogFilter narrows transfer log listings. Nil/zero fields match all.
type TransferLogFilter struct {
	User   *uuid.UUID // matches either side of the transfer
	Type   domain.TransferType
	Status domain.TransferStatus
	Since  *time.Time
	Limit  int
	Offset int
}

/// TransferLogRepository is append-only: entries are created once and never updated.
type TransferLogRepository interface {
	Create(ctx context.Context, q Querier, entry *domain.TransferLog) error
	List(ctx context.Context, q Querier, filter TransferLogFilter) ([]*domain.TransferLog, error)
}

// KeyRequestRepository persists key requests. Resolve is the status-flip gate.
type KeyRequestRepository interface {
	Create(ctx context.Context, q Querier, request *domain.KeyRequest) error
	GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.KeyRequest, error)
	// ListOpenForRetailer returns pending requests addressed to the retailer or
	// to no retailer in particular.
	ListOpenForRetailer(ctx context.Context, q Querier, retailerID uuid.UUID) ([]*domain.KeyRequest, error)
	// Resolve atomically transitions the request from pending to status,
	// adopting retailerID as ToRetailer when none was set. It returns the
	// post-update row, ErrRequestNotFound when the id is unknown, or
	// ErrRequestAlreadyResolved when a racing caller got there first.
	Resolve(ctx context.Context, q Querier, id uuid.UUID, status domain.RequestStatus, retailerID uuid.UUID, responseMessage string) (*domain.KeyRequest, error)
	SetAssignedKey(ctx context.Context, q Querier, id, keyID uuid.UUID) error
}

// ChildRepository persists activated child profiles.
type ChildRepository interface {
	Create(ctx context.Context, q Querier, child *domain.Child) error
	GetByID(ctx context.Context, q Querier, id uuid.UUID) (*domain.Child, error)
	ListByParent(ctx context.Context, q Querier, parentID uuid.UUID) ([]*domain.Child, error)
}

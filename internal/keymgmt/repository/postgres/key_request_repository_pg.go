package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

const keyRequestColumns = `id, from_parent, to_retailer, message, status, response_message, assigned_key, created_at, updated_at`

type PgKeyRequestRepository struct {
	logger *slog.Logger
}

func NewPgKeyRequestRepository(logger *slog.Logger) *PgKeyRequestRepository {
	return &PgKeyRequestRepository{logger: logger}
}

func scanKeyRequest(row pgx.Row) (*domain.KeyRequest, error) {
	kr := &domain.KeyRequest{}
	err := row.Scan(
		&kr.ID, &kr.FromParent, &kr.ToRetailer, &kr.Message, &kr.Status,
		&kr.ResponseMessage, &kr.AssignedKey, &kr.CreatedAt, &kr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return kr, nil
}

func (r *PgKeyRequestRepository) Create(ctx context.Context, q repository.Querier, request *domain.KeyRequest) error {
	now := time.Now().UTC()
	request.CreatedAt = now
	request.UpdatedAt = now
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	if request.Status == "" {
		request.Status = domain.RequestStatusPending
	}

	query := `
		INSERT INTO key_requests (id, from_parent, to_retailer, message, status, response_message, assigned_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.Exec(ctx, query,
		request.ID, request.FromParent, request.ToRetailer, request.Message,
		request.Status, request.ResponseMessage, request.AssignedKey,
		request.CreatedAt, request.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating key request", "error", err, "from_parent", request.FromParent)
		return err
	}
	return nil
}

func (r *PgKeyRequestRepository) GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.KeyRequest, error) {
	request, err := scanKeyRequest(q.QueryRow(ctx, `SELECT `+keyRequestColumns+` FROM key_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting key request", "error", err, "request_id", id)
		return nil, err
	}
	return request, nil
}

func (r *PgKeyRequestRepository) ListOpenForRetailer(ctx context.Context, q repository.Querier, retailerID uuid.UUID) ([]*domain.KeyRequest, error) {
	query := `
		SELECT ` + keyRequestColumns + `
		FROM key_requests
		WHERE status = $1 AND (to_retailer = $2 OR to_retailer IS NULL)
		ORDER BY created_at ASC
	`
	rows, err := q.Query(ctx, query, domain.RequestStatusPending, retailerID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing open key requests", "error", err, "retailer_id", retailerID)
		return nil, err
	}
	defer rows.Close()

	var requests []*domain.KeyRequest
	for rows.Next() {
		request, err := scanKeyRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

// Resolve is the anti-double-approval gate: a compare-and-swap on status. The
// WHERE status = 'pending' condition and the flip happen in one UPDATE, so of N
// racing callers exactly one sees a row come back. A request with no retailer
// adopts the caller via COALESCE; an already-routed request keeps its retailer,
// and the caller inspects the returned row to authorize.
func (r *PgKeyRequestRepository) Resolve(ctx context.Context, q repository.Querier, id uuid.UUID, status domain.RequestStatus, retailerID uuid.UUID, responseMessage string) (*domain.KeyRequest, error) {
	query := `
		UPDATE key_requests
		SET status = $2, to_retailer = COALESCE(to_retailer, $3), response_message = $4, updated_at = $5
		WHERE id = $1 AND status = $6
		RETURNING ` + keyRequestColumns
	request, err := scanKeyRequest(q.QueryRow(ctx, query,
		id, status, retailerID, responseMessage, time.Now().UTC(), domain.RequestStatusPending,
	))
	if err == nil {
		return request, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Error resolving key request", "error", err, "request_id", id)
		return nil, err
	}

	// The swap found nothing: either the id is unknown or someone else already
	// resolved it.
	if _, getErr := r.GetByID(ctx, q, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrRequestAlreadyResolved
}

func (r *PgKeyRequestRepository) SetAssignedKey(ctx context.Context, q repository.Querier, id, keyID uuid.UUID) error {
	tag, err := q.Exec(ctx,
		`UPDATE key_requests SET assigned_key = $2, updated_at = $3 WHERE id = $1`,
		id, keyID, time.Now().UTC(),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error setting assigned key on request", "error", err, "request_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

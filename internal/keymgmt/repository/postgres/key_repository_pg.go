package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

const keyColumns = `id, token, current_owner, is_assigned, assigned_to, assigned_at,
	valid_until, generated_by, created_at, updated_at`

type PgKeyRepository struct {
	logger *slog.Logger
}

func NewPgKeyRepository(logger *slog.Logger) *PgKeyRepository {
	return &PgKeyRepository{logger: logger}
}

func scanKey(row pgx.Row) (*domain.Key, error) {
	k := &domain.Key{}
	err := row.Scan(
		&k.ID, &k.Token, &k.CurrentOwner, &k.IsAssigned, &k.AssignedTo, &k.AssignedAt,
		&k.ValidUntil, &k.GeneratedBy, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (r *PgKeyRepository) Create(ctx context.Context, q repository.Querier, key *domain.Key) error {
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	query := `
		INSERT INTO keys (id, token, current_owner, is_assigned, assigned_to, assigned_at,
		                  valid_until, generated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.Exec(ctx, query,
		key.ID, key.Token, key.CurrentOwner, key.IsAssigned, key.AssignedTo, key.AssignedAt,
		key.ValidUntil, key.GeneratedBy, key.CreatedAt, key.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateToken
		}
		r.logger.ErrorContext(ctx, "Error creating key", "error", err)
		return err
	}
	return nil
}

func (r *PgKeyRepository) GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Key, error) {
	key, err := scanKey(q.QueryRow(ctx, `SELECT `+keyColumns+` FROM keys WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting key by ID", "error", err, "key_id", id)
		return nil, err
	}
	return key, nil
}

func (r *PgKeyRepository) GetByToken(ctx context.Context, q repository.Querier, token string) (*domain.Key, error) {
	key, err := scanKey(q.QueryRow(ctx, `SELECT `+keyColumns+` FROM keys WHERE token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting key by token", "error", err)
		return nil, err
	}
	return key, nil
}

func (r *PgKeyRepository) ListByOwner(ctx context.Context, q repository.Querier, owner uuid.UUID, onlyAvailable bool) ([]*domain.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys WHERE current_owner = $1`
	if onlyAvailable {
		query += ` AND is_assigned = FALSE`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := q.Query(ctx, query, owner)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing keys by owner", "error", err, "owner_id", owner)
		return nil, err
	}
	defer rows.Close()

	var keys []*domain.Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *PgKeyRepository) CountAvailable(ctx context.Context, q repository.Querier, owner uuid.UUID) (int, error) {
	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM keys WHERE current_owner = $1 AND is_assigned = FALSE`,
		owner,
	).Scan(&count)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error counting available keys", "error", err, "owner_id", owner)
		return 0, err
	}
	return count, nil
}

// MoveBatch claims up to count of the oldest available keys owned by `from` and
// reassigns them to `to` in one statement. Row locking with SKIP LOCKED keeps
// concurrent claimers from blocking on, or double-claiming, the same rows; the
// caller compares the returned count against what it asked for.
func (r *PgKeyRepository) MoveBatch(ctx context.Context, q repository.Querier, from, to uuid.UUID, count int) (int, error) {
	query := `
		WITH claimed AS (
			SELECT id FROM keys
			WHERE current_owner = $1 AND is_assigned = FALSE
			ORDER BY created_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE keys k
		SET current_owner = $2, updated_at = $4
		FROM claimed c
		WHERE k.id = c.id
	`
	tag, err := q.Exec(ctx, query, from, to, count, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error moving key batch", "error", err, "from", from, "to", to, "count", count)
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// MoveSpecific reassigns one named key if and only if it is still available and
// owned by `from`. The condition and the mutation are a single UPDATE, so two
// racing callers cannot both pass the availability check.
func (r *PgKeyRepository) MoveSpecific(ctx context.Context, q repository.Querier, keyID, from, to uuid.UUID) (*domain.Key, error) {
	query := `
		UPDATE keys
		SET current_owner = $3, updated_at = $4
		WHERE id = $1 AND current_owner = $2 AND is_assigned = FALSE
		RETURNING ` + keyColumns
	key, err := scanKey(q.QueryRow(ctx, query, keyID, from, to, time.Now().UTC()))
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Error moving specific key", "error", err, "key_id", keyID)
		return nil, err
	}

	// Distinguish "no such key" from "exists but claimed/consumed/foreign-owned".
	if _, getErr := r.GetByID(ctx, q, keyID); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrKeyNotAvailable
}

func (r *PgKeyRepository) MoveOldest(ctx context.Context, q repository.Querier, from, to uuid.UUID) (*domain.Key, error) {
	query := `
		WITH claimed AS (
			SELECT id FROM keys
			WHERE current_owner = $1 AND is_assigned = FALSE
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE keys k
		SET current_owner = $2, updated_at = $3
		FROM claimed c
		WHERE k.id = c.id
		RETURNING k.id, k.token, k.current_owner, k.is_assigned, k.assigned_to, k.assigned_at,
		          k.valid_until, k.generated_by, k.created_at, k.updated_at
	`
	key, err := scanKey(q.QueryRow(ctx, query, from, to, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInsufficientInventory
		}
		r.logger.ErrorContext(ctx, "Error moving oldest key", "error", err, "from", from, "to", to)
		return nil, err
	}
	return key, nil
}

// ConsumeOldest terminally assigns the owner's oldest available key to a child.
// This is the activation gate: claim-if-still-available in one UPDATE.
func (r *PgKeyRepository) ConsumeOldest(ctx context.Context, q repository.Querier, owner, childID uuid.UUID, assignedAt, validUntil time.Time) (*domain.Key, error) {
	query := `
		WITH claimed AS (
			SELECT id FROM keys
			WHERE current_owner = $1 AND is_assigned = FALSE
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE keys k
		SET is_assigned = TRUE, assigned_to = $2, assigned_at = $3, valid_until = $4, updated_at = $3
		FROM claimed c
		WHERE k.id = c.id
		RETURNING k.id, k.token, k.current_owner, k.is_assigned, k.assigned_to, k.assigned_at,
		          k.valid_until, k.generated_by, k.created_at, k.updated_at
	`
	key, err := scanKey(q.QueryRow(ctx, query, owner, childID, assignedAt.UTC(), validUntil.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInsufficientInventory
		}
		r.logger.ErrorContext(ctx, "Error consuming key", "error", err, "owner_id", owner, "child_id", childID)
		return nil, err
	}
	return key, nil
}

// ReclaimFromOwner sends every un-consumed key owned by `owner` back to the
// admin that minted it, reporting how many keys each admin got back.
func (r *PgKeyRepository) ReclaimFromOwner(ctx context.Context, q repository.Querier, owner uuid.UUID) (map[uuid.UUID]int, error) {
	query := `
		UPDATE keys
		SET current_owner = generated_by, updated_at = $2
		WHERE current_owner = $1 AND is_assigned = FALSE
		RETURNING generated_by
	`
	rows, err := q.Query(ctx, query, owner, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error reclaiming keys", "error", err, "owner_id", owner)
		return nil, err
	}
	defer rows.Close()

	reclaimed := make(map[uuid.UUID]int)
	for rows.Next() {
		var minter uuid.UUID
		if err := rows.Scan(&minter); err != nil {
			return nil, err
		}
		reclaimed[minter]++
	}
	return reclaimed, rows.Err()
}

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

const childColumns = `id, name, age, device_imei, parent_id, key_id, created_at, updated_at`

type PgChildRepository struct {
	logger *slog.Logger
}

func NewPgChildRepository(logger *slog.Logger) *PgChildRepository {
	return &PgChildRepository{logger: logger}
}

func scanChild(row pgx.Row) (*domain.Child, error) {
	c := &domain.Child{}
	err := row.Scan(&c.ID, &c.Name, &c.Age, &c.DeviceIMEI, &c.ParentID, &c.KeyID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PgChildRepository) Create(ctx context.Context, q repository.Querier, child *domain.Child) error {
	now := time.Now().UTC()
	child.CreatedAt = now
	child.UpdatedAt = now
	if child.ID == uuid.Nil {
		child.ID = uuid.New()
	}

	query := `
		INSERT INTO children (id, name, age, device_imei, parent_id, key_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.Exec(ctx, query,
		child.ID, child.Name, child.Age, child.DeviceIMEI, child.ParentID, child.KeyID,
		child.CreatedAt, child.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateEntry
		}
		r.logger.ErrorContext(ctx, "Error creating child", "error", err, "parent_id", child.ParentID)
		return err
	}
	return nil
}

func (r *PgChildRepository) GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Child, error) {
	child, err := scanChild(q.QueryRow(ctx, `SELECT `+childColumns+` FROM children WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChildNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting child by ID", "error", err, "child_id", id)
		return nil, err
	}
	return child, nil
}

func (r *PgChildRepository) ListByParent(ctx context.Context, q repository.Querier, parentID uuid.UUID) ([]*domain.Child, error) {
	rows, err := q.Query(ctx, `SELECT `+childColumns+` FROM children WHERE parent_id = $1 ORDER BY created_at ASC`, parentID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing children", "error", err, "parent_id", parentID)
		return nil, err
	}
	defer rows.Close()

	var children []*domain.Child
	for rows.Next() {
		child, err := scanChild(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, rows.Err()
}

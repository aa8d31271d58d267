package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

const transferLogColumns = `id, from_user, to_user, count, date, status, type, notes, reference, created_at`

type PgTransferLogRepository struct {
	logger *slog.Logger
}

func NewPgTransferLogRepository(logger *slog.Logger) *PgTransferLogRepository {
	return &PgTransferLogRepository{logger: logger}
}

func (r *PgTransferLogRepository) Create(ctx context.Context, q repository.Querier, entry *domain.TransferLog) error {
	now := time.Now().UTC()
	entry.CreatedAt = now
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Date.IsZero() {
		entry.Date = now
	}
	if entry.Status == "" {
		entry.Status = domain.TransferStatusCompleted
	}

	query := `
		INSERT INTO transfer_logs (id, from_user, to_user, count, date, status, type, notes, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.Exec(ctx, query,
		entry.ID, entry.FromUser, entry.ToUser, entry.Count, entry.Date,
		entry.Status, entry.Type, entry.Notes, entry.Reference, entry.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating transfer log entry", "error", err,
			"from_user", entry.FromUser, "to_user", entry.ToUser)
		return err
	}
	return nil
}

func (r *PgTransferLogRepository) List(ctx context.Context, q repository.Querier, filter repository.TransferLogFilter) ([]*domain.TransferLog, error) {
	query := `SELECT ` + transferLogColumns + ` FROM transfer_logs WHERE 1=1`
	args := []any{}

	if filter.User != nil {
		args = append(args, *filter.User)
		query += fmt.Sprintf(` AND (from_user = $%d OR to_user = $%d)`, len(args), len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(` AND type = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(` AND date >= $%d`, len(args))
	}
	query += ` ORDER BY date DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing transfer logs", "error", err)
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.TransferLog
	for rows.Next() {
		e := &domain.TransferLog{}
		if err := rows.Scan(
			&e.ID, &e.FromUser, &e.ToUser, &e.Count, &e.Date,
			&e.Status, &e.Type, &e.Notes, &e.Reference, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

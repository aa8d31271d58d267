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

const accountColumns = `id, name, email, phone, password_hash, role, created_by,
	received_keys, transferred_keys, assigned_keys, used_keys, total_generated,
	company_name, address, status, device_imei, refresh_token_hash, notes,
	created_at, updated_at`

type PgAccountRepository struct {
	logger *slog.Logger
}

func NewPgAccountRepository(logger *slog.Logger) *PgAccountRepository {
	return &PgAccountRepository{logger: logger}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(
		&a.ID, &a.Name, &a.Email, &a.Phone, &a.PasswordHash, &a.Role, &a.CreatedBy,
		&a.ReceivedKeys, &a.TransferredKeys, &a.AssignedKeys, &a.UsedKeys, &a.TotalGenerated,
		&a.CompanyName, &a.Address, &a.Status, &a.DeviceIMEI, &a.RefreshTokenHash, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PgAccountRepository) Create(ctx context.Context, q repository.Querier, account *domain.Account) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = domain.AccountStatusActive
	}

	query := `
		INSERT INTO accounts (id, name, email, phone, password_hash, role, created_by,
		                      received_keys, transferred_keys, assigned_keys, used_keys, total_generated,
		                      company_name, address, status, device_imei, refresh_token_hash, notes,
		                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := q.Exec(ctx, query,
		account.ID, account.Name, account.Email, account.Phone, account.PasswordHash,
		account.Role, account.CreatedBy,
		account.ReceivedKeys, account.TransferredKeys, account.AssignedKeys, account.UsedKeys, account.TotalGenerated,
		account.CompanyName, account.Address, account.Status, account.DeviceIMEI, account.RefreshTokenHash, account.Notes,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateEntry
		}
		r.logger.ErrorContext(ctx, "Error creating account", "error", err, "email", account.Email)
		return err
	}
	return nil
}

func (r *PgAccountRepository) GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Account, error) {
	account, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting account by ID", "error", err, "account_id", id)
		return nil, err
	}
	return account, nil
}

func (r *PgAccountRepository) GetByEmail(ctx context.Context, q repository.Querier, email string) (*domain.Account, error) {
	account, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting account by email", "error", err)
		return nil, err
	}
	return account, nil
}

func (r *PgAccountRepository) ListByCreator(ctx context.Context, q repository.Querier, creatorID uuid.UUID) ([]*domain.Account, error) {
	rows, err := q.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE created_by = $1 ORDER BY created_at ASC`, creatorID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing accounts by creator", "error", err, "creator_id", creatorID)
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *PgAccountRepository) IncrementReceived(ctx context.Context, q repository.Querier, id uuid.UUID, n int) error {
	return r.increment(ctx, q, id, `received_keys = received_keys + $2`, n)
}

func (r *PgAccountRepository) IncrementTransferred(ctx context.Context, q repository.Querier, id uuid.UUID, n int) error {
	return r.increment(ctx, q, id, `transferred_keys = transferred_keys + $2`, n)
}

// IncrementGenerated bumps both the generation statistic and received_keys:
// minted keys land in the admin's own pool, which keeps the ledger invariant
// intact at the top of the hierarchy.
func (r *PgAccountRepository) IncrementGenerated(ctx context.Context, q repository.Querier, id uuid.UUID, n int) error {
	return r.increment(ctx, q, id, `total_generated = total_generated + $2, received_keys = received_keys + $2`, n)
}

func (r *PgAccountRepository) increment(ctx context.Context, q repository.Querier, id uuid.UUID, setClause string, n int) error {
	query := `UPDATE accounts SET ` + setClause + `, updated_at = $3 WHERE id = $1`
	tag, err := q.Exec(ctx, query, id, n, time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error incrementing account counter", "error", err, "account_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *PgAccountRepository) UpdateRefreshTokenHash(ctx context.Context, q repository.Querier, id uuid.UUID, hash *string) error {
	tag, err := q.Exec(ctx,
		`UPDATE accounts SET refresh_token_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, time.Now().UTC(),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating refresh token hash", "error", err, "account_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *PgAccountRepository) Delete(ctx context.Context, q repository.Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deleting account", "error", err, "account_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

// TransferService moves batches of keys down the hierarchy. Every transfer is
// one transaction: key ownership flip, both counter increments and the audit
// log entry land together or not at all.
type TransferService struct {
	db       repository.Querier
	tx       repository.TxManager
	accounts repository.AccountRepository
	keys     repository.KeyRepository
	logs     repository.TransferLogRepository
	logger   *slog.Logger
}

func NewTransferService(
	db repository.Querier,
	tx repository.TxManager,
	accounts repository.AccountRepository,
	keys repository.KeyRepository,
	logs repository.TransferLogRepository,
	logger *slog.Logger,
) *TransferService {
	return &TransferService{
		db:       db,
		tx:       tx,
		accounts: accounts,
		keys:     keys,
		logs:     logs,
		logger:   logger.With("service", "transfer"),
	}
}

// Transfer moves count keys from one account's pool to another's.
func (s *TransferService) Transfer(ctx context.Context, fromID, toID uuid.UUID, count int, notes string) (*domain.TransferLog, error) {
	if count <= 0 {
		keyTransfersTotal.WithLabelValues("denied").Inc()
		return nil, fmt.Errorf("%w: count must be positive", domain.ErrInvalidArgument)
	}
	if fromID == toID {
		keyTransfersTotal.WithLabelValues("denied").Inc()
		return nil, fmt.Errorf("%w: sender and recipient are the same account", domain.ErrInvalidArgument)
	}

	var entry *domain.TransferLog
	err := s.tx.WithinTx(ctx, func(q repository.Querier) error {
		from, err := s.accounts.GetByID(ctx, q, fromID)
		if err != nil {
			return err
		}
		to, err := s.accounts.GetByID(ctx, q, toID)
		if err != nil {
			return err
		}

		if err := checkTransferAllowed(from, to); err != nil {
			return err
		}

		// Gate: claim the oldest `count` available keys. A shortfall means the
		// pool was too small (or a racer drained it); rolling back leaves no
		// partial reassignment behind.
		moved, err := s.keys.MoveBatch(ctx, q, from.ID, to.ID, count)
		if err != nil {
			return err
		}
		if moved < count {
			return fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientInventory, count, moved)
		}

		if err := s.accounts.IncrementTransferred(ctx, q, from.ID, count); err != nil {
			return err
		}
		if err := s.accounts.IncrementReceived(ctx, q, to.ID, count); err != nil {
			return err
		}

		entry = &domain.TransferLog{
			FromUser: from.ID,
			ToUser:   to.ID,
			Count:    count,
			Status:   domain.TransferStatusCompleted,
			Type:     domain.TransferTypeBulk,
			Notes:    notes,
		}
		return s.logs.Create(ctx, q, entry)
	})
	if err != nil {
		s.observeTransferFailure(ctx, err, fromID, toID, count)
		return nil, err
	}

	keyTransfersTotal.WithLabelValues("success").Inc()
	keysMovedTotal.Add(float64(count))
	s.logger.InfoContext(ctx, "Keys transferred", "from", fromID, "to", toID, "count", count)
	return entry, nil
}

// checkTransferAllowed enforces the hierarchy rules for the bulk primitive.
// Retailers never use it; they hand out single keys through parent creation.
// Otherwise the recipient must be the sender's direct subordinate or the role
// pair must match the static adjacency table.
func checkTransferAllowed(from, to *domain.Account) error {
	if from.Role == domain.RoleRetailer {
		return fmt.Errorf("%w: retailers assign individual keys via parent creation, not bulk transfer", domain.ErrAccessDenied)
	}
	if to.CreatedBy != nil && *to.CreatedBy == from.ID {
		return nil
	}
	if domain.CanBulkTransfer(from.Role, to.Role) {
		return nil
	}
	return fmt.Errorf("%w: %s cannot transfer keys to %s", domain.ErrAccessDenied, from.Role, to.Role)
}

func (s *TransferService) observeTransferFailure(ctx context.Context, err error, fromID, toID uuid.UUID, count int) {
	switch {
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrInvalidArgument):
		keyTransfersTotal.WithLabelValues("denied").Inc()
	case errors.Is(err, domain.ErrInsufficientInventory):
		keyTransfersTotal.WithLabelValues("insufficient").Inc()
	case errors.Is(err, domain.ErrNotFound):
		keyTransfersTotal.WithLabelValues("denied").Inc()
	default:
		keyTransfersTotal.WithLabelValues("error").Inc()
		s.logger.ErrorContext(ctx, "Key transfer failed", "error", err, "from", fromID, "to", toID, "count", count)
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

// NewChildInput carries the profile of a child being activated.
type NewChildInput struct {
	Name       string
	Age        int
	DeviceIMEI *string
}

// ActivationService terminally consumes keys: one activation claims exactly one
// of the parent's available keys and binds it to a new child, permanently.
type ActivationService struct {
	db            repository.Querier
	tx            repository.TxManager
	accounts      repository.AccountRepository
	keys          repository.KeyRepository
	children      repository.ChildRepository
	logs          repository.TransferLogRepository
	notifier      Notifier
	validityYears int
	logger        *slog.Logger
}

func NewActivationService(
	db repository.Querier,
	tx repository.TxManager,
	accounts repository.AccountRepository,
	keys repository.KeyRepository,
	children repository.ChildRepository,
	logs repository.TransferLogRepository,
	notifier Notifier,
	validityYears int,
	logger *slog.Logger,
) *ActivationService {
	if validityYears <= 0 {
		validityYears = 2
	}
	return &ActivationService{
		db:            db,
		tx:            tx,
		accounts:      accounts,
		keys:          keys,
		children:      children,
		logs:          logs,
		notifier:      notifier,
		validityYears: validityYears,
		logger:        logger.With("service", "activation"),
	}
}

// Activate claims one of the parent's available keys and creates the child it
// is consumed by. The claim is a conditional update on the oldest available
// key: two concurrent activations over a single remaining key cannot both
// succeed, the loser rolls back with ErrInsufficientInventory and no child row.
func (s *ActivationService) Activate(ctx context.Context, parentID uuid.UUID, input NewChildInput) (*domain.Child, *domain.Key, error) {
	if input.Name == "" || input.Age <= 0 {
		childActivationsTotal.WithLabelValues("invalid").Inc()
		return nil, nil, fmt.Errorf("%w: child name and age are required", domain.ErrInvalidArgument)
	}

	parent, err := s.accounts.GetByID(ctx, s.db, parentID)
	if err != nil {
		childActivationsTotal.WithLabelValues("error").Inc()
		return nil, nil, err
	}
	if parent.Role != domain.RoleParent {
		childActivationsTotal.WithLabelValues("denied").Inc()
		return nil, nil, fmt.Errorf("%w: only parents may activate children", domain.ErrAccessDenied)
	}

	var (
		child *domain.Child
		key   *domain.Key
	)
	err = s.tx.WithinTx(ctx, func(q repository.Querier) error {
		childID := uuid.New()
		now := time.Now().UTC()

		// Gate first: claim-if-still-available. No key, no child.
		var err error
		key, err = s.keys.ConsumeOldest(ctx, q, parent.ID, childID, now, now.AddDate(s.validityYears, 0, 0))
		if err != nil {
			return err
		}

		child = &domain.Child{
			ID:         childID,
			Name:       input.Name,
			Age:        input.Age,
			DeviceIMEI: input.DeviceIMEI,
			ParentID:   parent.ID,
			KeyID:      key.ID,
		}
		if err := s.children.Create(ctx, q, child); err != nil {
			return err
		}

		// The key leaves the parent's transferable pool for good.
		if err := s.accounts.IncrementTransferred(ctx, q, parent.ID, 1); err != nil {
			return err
		}
		return s.logs.Create(ctx, q, &domain.TransferLog{
			FromUser:  parent.ID,
			ToUser:    childID,
			Count:     1,
			Status:    domain.TransferStatusCompleted,
			Type:      domain.TransferTypeActivate,
			Notes:     fmt.Sprintf("key consumed by child activation: %s", input.Name),
			Reference: key.Token,
		})
	})
	if err != nil {
		if errorsIsAny(err, domain.ErrInsufficientInventory) {
			childActivationsTotal.WithLabelValues("insufficient").Inc()
		} else {
			childActivationsTotal.WithLabelValues("error").Inc()
			s.logger.ErrorContext(ctx, "Child activation failed", "error", err, "parent_id", parent.ID)
		}
		return nil, nil, err
	}

	if err := s.notifier.Notify(ctx, parent.ID, "child.activated", map[string]any{
		"child_id":    child.ID.String(),
		"key_token":   key.Token,
		"valid_until": key.ValidUntil.Format(time.RFC3339),
	}); err != nil {
		s.logger.WarnContext(ctx, "Notification delivery failed", "error", err, "user_id", parent.ID)
	}

	childActivationsTotal.WithLabelValues("success").Inc()
	s.logger.InfoContext(ctx, "Child activated", "child_id", child.ID, "parent_id", parent.ID, "key_id", key.ID)
	return child, key, nil
}

// ListChildren returns the children activated by a parent.
func (s *ActivationService) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*domain.Child, error) {
	return s.children.ListByParent(ctx, s.db, parentID)
}

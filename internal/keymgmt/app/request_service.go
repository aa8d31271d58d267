package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

// RequestService implements the request-then-approve variant of a key
// transfer. The approval runs as one transaction whose first statement is the
// pending -> approved compare-and-swap; if anything after the swap fails, the
// rollback reverts the flip, so a request can never be stuck in approved with
// no key attached.
type RequestService struct {
	db       repository.Querier
	tx       repository.TxManager
	accounts repository.AccountRepository
	keys     repository.KeyRepository
	requests repository.KeyRequestRepository
	logs     repository.TransferLogRepository
	notifier Notifier
	logger   *slog.Logger
}

func NewRequestService(
	db repository.Querier,
	tx repository.TxManager,
	accounts repository.AccountRepository,
	keys repository.KeyRepository,
	requests repository.KeyRequestRepository,
	logs repository.TransferLogRepository,
	notifier Notifier,
	logger *slog.Logger,
) *RequestService {
	return &RequestService{
		db:       db,
		tx:       tx,
		accounts: accounts,
		keys:     keys,
		requests: requests,
		logs:     logs,
		notifier: notifier,
		logger:   logger.With("service", "key_request"),
	}
}

// CreateRequest records a parent's solicitation for one key. The retailer is
// resolved from the explicit hint or from the parent's creator; when neither
// yields a retailer the request stays unrouted and any retailer may pick it up.
func (s *RequestService) CreateRequest(ctx context.Context, parentID uuid.UUID, retailerHint *uuid.UUID, message string) (*domain.KeyRequest, error) {
	parent, err := s.accounts.GetByID(ctx, s.db, parentID)
	if err != nil {
		keyRequestsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	if parent.Role != domain.RoleParent {
		keyRequestsTotal.WithLabelValues("create", "denied").Inc()
		return nil, fmt.Errorf("%w: only parents may request keys", domain.ErrAccessDenied)
	}

	request := &domain.KeyRequest{
		FromParent: parent.ID,
		Message:    message,
		Status:     domain.RequestStatusPending,
	}

	if retailerHint != nil {
		request.ToRetailer = retailerHint
	} else if parent.CreatedBy != nil {
		if creator, err := s.accounts.GetByID(ctx, s.db, *parent.CreatedBy); err == nil && creator.Role == domain.RoleRetailer {
			request.ToRetailer = &creator.ID
		}
	}

	if err := s.requests.Create(ctx, s.db, request); err != nil {
		keyRequestsTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	if request.ToRetailer != nil {
		s.notify(ctx, *request.ToRetailer, "key_request.created", map[string]any{
			"request_id": request.ID.String(),
			"parent_id":  parent.ID.String(),
			"message":    message,
		})
	}

	keyRequestsTotal.WithLabelValues("create", "success").Inc()
	s.logger.InfoContext(ctx, "Key request created", "request_id", request.ID, "parent_id", parent.ID)
	return request, nil
}

// Approve turns a pending request into a real one-key transfer. When
// specificKeyID is given that exact key is claimed; otherwise the retailer's
// oldest available key is. Exactly one approval can succeed per request.
func (s *RequestService) Approve(ctx context.Context, retailerID, requestID uuid.UUID, specificKeyID *uuid.UUID, responseMessage string) (*domain.KeyRequest, *domain.Key, error) {
	retailer, err := s.accounts.GetByID(ctx, s.db, retailerID)
	if err != nil {
		keyRequestsTotal.WithLabelValues("approve", "error").Inc()
		return nil, nil, err
	}
	if retailer.Role != domain.RoleRetailer {
		keyRequestsTotal.WithLabelValues("approve", "denied").Inc()
		return nil, nil, fmt.Errorf("%w: only retailers may approve key requests", domain.ErrAccessDenied)
	}

	var (
		request *domain.KeyRequest
		key     *domain.Key
	)
	err = s.tx.WithinTx(ctx, func(q repository.Querier) error {
		// Gate first: flip pending -> approved. Everything after this runs with
		// exclusive right to the request; any error rolls the flip back.
		var err error
		request, err = s.requests.Resolve(ctx, q, requestID, domain.RequestStatusApproved, retailer.ID, responseMessage)
		if err != nil {
			return err
		}
		if request.ToRetailer != nil && *request.ToRetailer != retailer.ID {
			return fmt.Errorf("%w: request is routed to another retailer", domain.ErrAccessDenied)
		}

		if specificKeyID != nil {
			key, err = s.keys.MoveSpecific(ctx, q, *specificKeyID, retailer.ID, request.FromParent)
		} else {
			key, err = s.keys.MoveOldest(ctx, q, retailer.ID, request.FromParent)
		}
		if err != nil {
			return err
		}

		if err := s.requests.SetAssignedKey(ctx, q, request.ID, key.ID); err != nil {
			return err
		}
		if err := s.accounts.IncrementTransferred(ctx, q, retailer.ID, 1); err != nil {
			return err
		}
		if err := s.accounts.IncrementReceived(ctx, q, request.FromParent, 1); err != nil {
			return err
		}
		return s.logs.Create(ctx, q, &domain.TransferLog{
			FromUser:  retailer.ID,
			ToUser:    request.FromParent,
			Count:     1,
			Status:    domain.TransferStatusCompleted,
			Type:      domain.TransferTypeRegular,
			Notes:     "key request approved",
			Reference: key.Token,
		})
	})
	if err != nil {
		s.observeResolveFailure(ctx, "approve", err, requestID, retailerID)
		return nil, nil, err
	}
	request.AssignedKey = &key.ID

	s.notify(ctx, request.FromParent, "key_request.approved", map[string]any{
		"request_id": request.ID.String(),
		"key_token":  key.Token,
	})

	keyRequestsTotal.WithLabelValues("approve", "success").Inc()
	s.logger.InfoContext(ctx, "Key request approved", "request_id", request.ID, "retailer_id", retailer.ID, "key_id", key.ID)
	return request, key, nil
}

// Deny resolves a pending request without moving any key.
func (s *RequestService) Deny(ctx context.Context, retailerID, requestID uuid.UUID, responseMessage string) (*domain.KeyRequest, error) {
	retailer, err := s.accounts.GetByID(ctx, s.db, retailerID)
	if err != nil {
		keyRequestsTotal.WithLabelValues("deny", "error").Inc()
		return nil, err
	}
	if retailer.Role != domain.RoleRetailer {
		keyRequestsTotal.WithLabelValues("deny", "denied").Inc()
		return nil, fmt.Errorf("%w: only retailers may deny key requests", domain.ErrAccessDenied)
	}

	var request *domain.KeyRequest
	err = s.tx.WithinTx(ctx, func(q repository.Querier) error {
		var err error
		request, err = s.requests.Resolve(ctx, q, requestID, domain.RequestStatusDenied, retailer.ID, responseMessage)
		if err != nil {
			return err
		}
		if request.ToRetailer != nil && *request.ToRetailer != retailer.ID {
			return fmt.Errorf("%w: request is routed to another retailer", domain.ErrAccessDenied)
		}
		return nil
	})
	if err != nil {
		s.observeResolveFailure(ctx, "deny", err, requestID, retailerID)
		return nil, err
	}

	s.notify(ctx, request.FromParent, "key_request.denied", map[string]any{
		"request_id": request.ID.String(),
		"message":    responseMessage,
	})

	keyRequestsTotal.WithLabelValues("deny", "success").Inc()
	s.logger.InfoContext(ctx, "Key request denied", "request_id", request.ID, "retailer_id", retailer.ID)
	return request, nil
}

// ListOpen returns pending requests the retailer could act on.
func (s *RequestService) ListOpen(ctx context.Context, retailerID uuid.UUID) ([]*domain.KeyRequest, error) {
	retailer, err := s.accounts.GetByID(ctx, s.db, retailerID)
	if err != nil {
		return nil, err
	}
	if retailer.Role != domain.RoleRetailer {
		return nil, fmt.Errorf("%w: only retailers may list key requests", domain.ErrAccessDenied)
	}
	return s.requests.ListOpenForRetailer(ctx, s.db, retailer.ID)
}

func (s *RequestService) notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) {
	if err := s.notifier.Notify(ctx, userID, event, payload); err != nil {
		s.logger.WarnContext(ctx, "Notification delivery failed", "error", err, "user_id", userID, "event", event)
	}
}

func (s *RequestService) observeResolveFailure(ctx context.Context, action string, err error, requestID, retailerID uuid.UUID) {
	switch {
	case errorsIsAny(err, domain.ErrConflict):
		keyRequestsTotal.WithLabelValues(action, "conflict").Inc()
	case errorsIsAny(err, domain.ErrInsufficientInventory):
		keyRequestsTotal.WithLabelValues(action, "insufficient").Inc()
	case errorsIsAny(err, domain.ErrAccessDenied, domain.ErrNotFound):
		keyRequestsTotal.WithLabelValues(action, "denied").Inc()
	default:
		keyRequestsTotal.WithLabelValues(action, "error").Inc()
		s.logger.ErrorContext(ctx, "Key request resolution failed", "error", err,
			"action", action, "request_id", requestID, "retailer_id", retailerID)
	}
}

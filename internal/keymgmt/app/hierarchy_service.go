package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

// NewAccountInput carries the profile fields for a new hierarchy account.
type NewAccountInput struct {
	Name        string
	Email       string
	Phone       string
	Password    string
	CompanyName string
	Address     string
	Notes       string
}

// NewParentInput extends NewAccountInput with the parent-only fields. KeyToken
// names the activation key the retailer hands over at creation; Password may be
// empty, in which case one is generated and returned to the caller once.
type NewParentInput struct {
	NewAccountInput
	DeviceIMEI string
	KeyToken   string
}

// HierarchyService manages the account tree: creating subordinates, the
// retailer's create-parent path (which moves one named key), and account
// removal with key reclaim.
type HierarchyService struct {
	db       repository.Querier
	tx       repository.TxManager
	accounts repository.AccountRepository
	keys     repository.KeyRepository
	logs     repository.TransferLogRepository
	logger   *slog.Logger
}

func NewHierarchyService(
	db repository.Querier,
	tx repository.TxManager,
	accounts repository.AccountRepository,
	keys repository.KeyRepository,
	logs repository.TransferLogRepository,
	logger *slog.Logger,
) *HierarchyService {
	return &HierarchyService{
		db:       db,
		tx:       tx,
		accounts: accounts,
		keys:     keys,
		logs:     logs,
		logger:   logger.With("service", "hierarchy"),
	}
}

// CreateSubordinate creates the account one level below the creator. The new
// account's role comes from the adjacency table, never from the caller.
// Retailers must use CreateParent instead: their subordinates take a key.
func (s *HierarchyService) CreateSubordinate(ctx context.Context, creatorID uuid.UUID, input NewAccountInput) (*domain.Account, error) {
	if err := validateAccountInput(input); err != nil {
		return nil, err
	}
	if input.Password == "" {
		return nil, fmt.Errorf("%w: password is required", domain.ErrInvalidArgument)
	}

	creator, err := s.accounts.GetByID(ctx, s.db, creatorID)
	if err != nil {
		return nil, err
	}
	role, ok := creator.Role.Subordinate()
	if !ok {
		return nil, fmt.Errorf("%w: %s accounts cannot create subordinates", domain.ErrAccessDenied, creator.Role)
	}
	if role == domain.RoleParent {
		return nil, fmt.Errorf("%w: parents are created through key assignment", domain.ErrAccessDenied)
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		Name:         input.Name,
		Email:        strings.ToLower(input.Email),
		Phone:        input.Phone,
		PasswordHash: hash,
		Role:         role,
		CreatedBy:    &creator.ID,
		CompanyName:  input.CompanyName,
		Address:      input.Address,
		Notes:        input.Notes,
		Status:       domain.AccountStatusActive,
	}
	if err := s.accounts.Create(ctx, s.db, account); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Subordinate account created", "account_id", account.ID, "role", role, "creator_id", creator.ID)
	return account, nil
}

// CreateParent is the retailer-only account creation path: it makes the parent
// account and hands over exactly one named key as a single transaction. The
// generated password (when none was supplied) is returned exactly once.
func (s *HierarchyService) CreateParent(ctx context.Context, retailerID uuid.UUID, input NewParentInput) (*domain.Account, string, error) {
	if err := validateAccountInput(input.NewAccountInput); err != nil {
		return nil, "", err
	}
	if input.DeviceIMEI == "" || input.KeyToken == "" {
		return nil, "", fmt.Errorf("%w: device IMEI and key token are required", domain.ErrInvalidArgument)
	}

	retailer, err := s.accounts.GetByID(ctx, s.db, retailerID)
	if err != nil {
		return nil, "", err
	}
	if retailer.Role != domain.RoleRetailer {
		return nil, "", fmt.Errorf("%w: only retailers may create parents", domain.ErrAccessDenied)
	}

	password := input.Password
	generatedPassword := ""
	if password == "" {
		password, err = randomPassword()
		if err != nil {
			return nil, "", err
		}
		generatedPassword = password
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	key, err := s.keys.GetByToken(ctx, s.db, input.KeyToken)
	if err != nil {
		return nil, "", err
	}

	parent := &domain.Account{
		Name:         input.Name,
		Email:        strings.ToLower(input.Email),
		Phone:        input.Phone,
		PasswordHash: hash,
		Role:         domain.RoleParent,
		CreatedBy:    &retailer.ID,
		DeviceIMEI:   &input.DeviceIMEI,
		Notes:        input.Notes,
		Status:       domain.AccountStatusActive,
	}

	err = s.tx.WithinTx(ctx, func(q repository.Querier) error {
		if err := s.accounts.Create(ctx, q, parent); err != nil {
			return err
		}
		// Gate: the named key must still be available and owned by the retailer.
		if _, err := s.keys.MoveSpecific(ctx, q, key.ID, retailer.ID, parent.ID); err != nil {
			return err
		}
		if err := s.accounts.IncrementTransferred(ctx, q, retailer.ID, 1); err != nil {
			return err
		}
		if err := s.accounts.IncrementReceived(ctx, q, parent.ID, 1); err != nil {
			return err
		}
		return s.logs.Create(ctx, q, &domain.TransferLog{
			FromUser:  retailer.ID,
			ToUser:    parent.ID,
			Count:     1,
			Status:    domain.TransferStatusCompleted,
			Type:      domain.TransferTypeRegular,
			Notes:     "key assigned at parent creation",
			Reference: key.Token,
		})
	})
	if err != nil {
		return nil, "", err
	}

	s.logger.InfoContext(ctx, "Parent account created", "account_id", parent.ID, "retailer_id", retailer.ID, "key_id", key.ID)
	return parent, generatedPassword, nil
}

// RemoveAccount deletes a non-admin account and reclaims its un-consumed keys
// back into the pools of the admins that minted them, with a compensating log
// entry per admin. Everything runs in one transaction.
func (s *HierarchyService) RemoveAccount(ctx context.Context, adminID, targetID uuid.UUID) error {
	admin, err := s.accounts.GetByID(ctx, s.db, adminID)
	if err != nil {
		return err
	}
	if admin.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: only admins may remove accounts", domain.ErrAccessDenied)
	}
	if adminID == targetID {
		return fmt.Errorf("%w: admins cannot remove themselves", domain.ErrInvalidArgument)
	}

	target, err := s.accounts.GetByID(ctx, s.db, targetID)
	if err != nil {
		return err
	}
	if target.Role == domain.RoleAdmin {
		return fmt.Errorf("%w: admin accounts cannot be removed", domain.ErrAccessDenied)
	}

	err = s.tx.WithinTx(ctx, func(q repository.Querier) error {
		reclaimed, err := s.keys.ReclaimFromOwner(ctx, q, target.ID)
		if err != nil {
			return err
		}
		for minter, n := range reclaimed {
			if err := s.accounts.IncrementReceived(ctx, q, minter, n); err != nil {
				return err
			}
			if err := s.logs.Create(ctx, q, &domain.TransferLog{
				FromUser: target.ID,
				ToUser:   minter,
				Count:    n,
				Status:   domain.TransferStatusCompleted,
				Type:     domain.TransferTypeReceive,
				Notes:    "keys reclaimed on account removal",
			}); err != nil {
				return err
			}
		}
		return s.accounts.Delete(ctx, q, target.ID)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Account removal failed", "error", err, "target_id", targetID)
		return err
	}

	s.logger.InfoContext(ctx, "Account removed", "target_id", targetID, "role", target.Role)
	return nil
}

// Subordinates lists the accounts directly below the given one.
func (s *HierarchyService) Subordinates(ctx context.Context, accountID uuid.UUID) ([]*domain.Account, error) {
	if _, err := s.accounts.GetByID(ctx, s.db, accountID); err != nil {
		return nil, err
	}
	return s.accounts.ListByCreator(ctx, s.db, accountID)
}

func validateAccountInput(input NewAccountInput) error {
	if input.Name == "" || input.Email == "" || input.Phone == "" {
		return fmt.Errorf("%w: name, email and phone are required", domain.ErrInvalidArgument)
	}
	if !strings.Contains(input.Email, "@") {
		return fmt.Errorf("%w: malformed email", domain.ErrInvalidArgument)
	}
	return nil
}

// randomPassword returns a short URL-safe password for auto-provisioned parents.
func randomPassword() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: reading random bytes: %v", domain.ErrInternal, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPasswordHash compares a plaintext password against a bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

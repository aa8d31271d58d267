package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

const maxTokenAttempts = 5

// KeygenService mints activation keys for admins. Generated keys land in the
// minting admin's own pool, so generation also counts toward receivedKeys.
type KeygenService struct {
	db               repository.Querier
	tx               repository.TxManager
	accounts         repository.AccountRepository
	keys             repository.KeyRepository
	defaultKeyLength int
	validityYears    int
	logger           *slog.Logger
}

func NewKeygenService(
	db repository.Querier,
	tx repository.TxManager,
	accounts repository.AccountRepository,
	keys repository.KeyRepository,
	defaultKeyLength int,
	validityYears int,
	logger *slog.Logger,
) *KeygenService {
	if defaultKeyLength <= 0 {
		defaultKeyLength = 16
	}
	if validityYears <= 0 {
		validityYears = 2
	}
	return &KeygenService{
		db:               db,
		tx:               tx,
		accounts:         accounts,
		keys:             keys,
		defaultKeyLength: defaultKeyLength,
		validityYears:    validityYears,
		logger:           logger.With("service", "keygen"),
	}
}

// Generate mints count keys of keyLength hex characters, owned by the admin.
// Token uniqueness is checked before each insert and regenerated on collision;
// the database unique index remains the final guard. The whole batch plus the
// counter bump is one transaction.
func (s *KeygenService) Generate(ctx context.Context, adminID uuid.UUID, count, keyLength int) ([]*domain.Key, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", domain.ErrInvalidArgument)
	}
	if keyLength == 0 {
		keyLength = s.defaultKeyLength
	}
	if keyLength < 8 {
		return nil, fmt.Errorf("%w: key length must be at least 8 hex characters", domain.ErrInvalidArgument)
	}

	admin, err := s.accounts.GetByID(ctx, s.db, adminID)
	if err != nil {
		return nil, err
	}
	if admin.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins may generate keys", domain.ErrAccessDenied)
	}

	validUntil := time.Now().UTC().AddDate(s.validityYears, 0, 0)

	var generated []*domain.Key
	err = s.tx.WithinTx(ctx, func(q repository.Querier) error {
		generated = generated[:0]
		for i := 0; i < count; i++ {
			key, err := s.mintOne(ctx, q, admin.ID, keyLength, validUntil)
			if err != nil {
				return err
			}
			generated = append(generated, key)
		}
		return s.accounts.IncrementGenerated(ctx, q, admin.ID, count)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Key generation failed", "error", err, "admin_id", admin.ID, "count", count)
		return nil, err
	}

	keysGeneratedTotal.Add(float64(count))
	s.logger.InfoContext(ctx, "Keys generated", "admin_id", admin.ID, "count", count, "key_length", keyLength)
	return generated, nil
}

func (s *KeygenService) mintOne(ctx context.Context, q repository.Querier, adminID uuid.UUID, keyLength int, validUntil time.Time) (*domain.Key, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := randomHexToken(keyLength)
		if err != nil {
			return nil, err
		}

		// Pre-check so a collision does not abort the surrounding transaction;
		// the unique index on token still backstops the race window.
		if _, err := s.keys.GetByToken(ctx, q, token); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrKeyNotFound) {
			return nil, err
		}

		key := &domain.Key{
			Token:        token,
			CurrentOwner: adminID,
			GeneratedBy:  adminID,
			ValidUntil:   validUntil,
		}
		if err := s.keys.Create(ctx, q, key); err != nil {
			return nil, err
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: could not mint a unique token after %d attempts", domain.ErrInternal, maxTokenAttempts)
}

// randomHexToken returns a random lowercase hex string of exactly n characters.
func randomHexToken(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: reading random bytes: %v", domain.ErrInternal, err)
	}
	return hex.EncodeToString(buf)[:n], nil
}

package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

var ErrTokenInvalid = errors.New("token is invalid or expired")

// AuthConfig carries the JWT secrets and lifetimes.
type AuthConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// TokenPair is an issued access/refresh token set.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AccessClaims are the JWT claims carried by access tokens.
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService authenticates accounts and issues JWTs. Refresh tokens are
// single-active: a SHA3 hash of the latest one is stored on the account and
// rotation invalidates its predecessor.
type AuthService struct {
	db       repository.Querier
	accounts repository.AccountRepository
	config   AuthConfig
	logger   *slog.Logger
}

func NewAuthService(db repository.Querier, accounts repository.AccountRepository, config AuthConfig, logger *slog.Logger) *AuthService {
	return &AuthService{
		db:       db,
		accounts: accounts,
		config:   config,
		logger:   logger.With("service", "auth"),
	}
}

// Login verifies credentials and issues a fresh token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, *domain.Account, error) {
	account, err := s.accounts.GetByEmail(ctx, s.db, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !CheckPasswordHash(password, account.PasswordHash) {
		return nil, nil, domain.ErrInvalidCredentials
	}
	if account.Status == domain.AccountStatusBlocked {
		return nil, nil, fmt.Errorf("%w: account is blocked", domain.ErrAccessDenied)
	}

	pair, err := s.issueTokens(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	s.logger.InfoContext(ctx, "Account logged in", "account_id", account.ID, "role", account.Role)
	return pair, account, nil
}

// Refresh validates a refresh token against the stored hash and rotates it.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(refreshToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.RefreshSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	account, err := s.accounts.GetByID(ctx, s.db, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	hash := hashToken(refreshToken)
	if account.RefreshTokenHash == nil || *account.RefreshTokenHash != hash {
		return nil, ErrTokenInvalid
	}

	pair, err := s.issueTokens(ctx, account)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Tokens refreshed", "account_id", account.ID)
	return pair, nil
}

// ValidateAccessToken parses and verifies an access token.
func (s *AuthService) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.AccessSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) issueTokens(ctx context.Context, account *domain.Account) (*TokenPair, error) {
	now := time.Now().UTC()
	accessExpiry := now.Add(s.config.AccessExpiry)

	accessClaims := AccessClaims{
		Role: string(account.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
			ID:        uuid.NewString(),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString([]byte(s.config.AccessSecret))
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	refreshClaims := jwt.RegisteredClaims{
		Subject:   account.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.RefreshExpiry)),
		ID:        uuid.NewString(),
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString([]byte(s.config.RefreshSecret))
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}

	hash := hashToken(refreshToken)
	if err := s.accounts.UpdateRefreshTokenHash(ctx, s.db, account.ID, &hash); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExpiry,
	}, nil
}

func hashToken(token string) string {
	sum := sha3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

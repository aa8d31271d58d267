package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kidshield/keyserver/internal/keymgmt/app"
	"github.com/kidshield/keyserver/internal/keymgmt/domain"
)

// AuthenticationService is the slice of the auth service the handler uses.
type AuthenticationService interface {
	Login(ctx context.Context, email, password string) (*app.TokenPair, *domain.Account, error)
	Refresh(ctx context.Context, refreshToken string) (*app.TokenPair, error)
}

// AuthHandler handles login and token refresh.
type AuthHandler struct {
	auth     AuthenticationService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewAuthHandler(auth AuthenticationService, logger *slog.Logger, validate *validator.Validate) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger, validate: validate}
}

// RegisterRoutes sets up the unauthenticated auth endpoints.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO LoginRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	pair, account, err := h.auth.Login(ctx, reqDTO.Email, reqDTO.Password)
	if err != nil {
		h.logger.WarnContext(ctx, "Login failed", "email", reqDTO.Email, "error", err)
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, LoginResponseDTO{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		Account:      accountToResponseDTO(account),
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO RefreshRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	pair, err := h.auth.Refresh(ctx, reqDTO.RefreshToken)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pair)
}

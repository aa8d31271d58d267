package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/app"
	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/middleware"
)

// AccountService is the hierarchy management surface.
type AccountService interface {
	CreateSubordinate(ctx context.Context, creatorID uuid.UUID, input app.NewAccountInput) (*domain.Account, error)
	CreateParent(ctx context.Context, retailerID uuid.UUID, input app.NewParentInput) (*domain.Account, string, error)
	RemoveAccount(ctx context.Context, adminID, targetID uuid.UUID) error
	Subordinates(ctx context.Context, accountID uuid.UUID) ([]*domain.Account, error)
}

// AccountHandler handles hierarchy account management.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewAccountHandler(accounts AccountService, logger *slog.Logger, validate *validator.Validate) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger, validate: validate}
}

// RegisterRoutes sets up the authenticated account endpoints.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Post("/accounts", h.CreateSubordinate)
	r.With(middleware.RequireRoles(h.logger, domain.RoleRetailer)).Post("/accounts/parent", h.CreateParent)
	r.With(middleware.RequireRoles(h.logger, domain.RoleAdmin)).Delete("/accounts/{accountID}", h.Remove)
	r.Get("/accounts", h.ListSubordinates)
}

func (h *AccountHandler) CreateSubordinate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var reqDTO CreateAccountRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	account, err := h.accounts.CreateSubordinate(ctx, authUser.ID, app.NewAccountInput{
		Name:        reqDTO.Name,
		Email:       reqDTO.Email,
		Phone:       reqDTO.Phone,
		Password:    reqDTO.Password,
		CompanyName: reqDTO.CompanyName,
		Address:     reqDTO.Address,
		Notes:       reqDTO.Notes,
	})
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, accountToResponseDTO(account))
}

func (h *AccountHandler) CreateParent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var reqDTO CreateParentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	parent, generatedPassword, err := h.accounts.CreateParent(ctx, authUser.ID, app.NewParentInput{
		NewAccountInput: app.NewAccountInput{
			Name:     reqDTO.Name,
			Email:    reqDTO.Email,
			Phone:    reqDTO.Phone,
			Password: reqDTO.Password,
			Notes:    reqDTO.Notes,
		},
		DeviceIMEI: reqDTO.DeviceIMEI,
		KeyToken:   reqDTO.KeyToken,
	})
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, CreateParentResponseDTO{
		Account:           accountToResponseDTO(parent),
		GeneratedPassword: generatedPassword,
	})
}

func (h *AccountHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	targetID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account ID format")
		return
	}

	if err := h.accounts.RemoveAccount(ctx, authUser.ID, targetID); err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusNoContent, nil)
}

func (h *AccountHandler) ListSubordinates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	subordinates, err := h.accounts.Subordinates(ctx, authUser.ID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respDTOs := make([]AccountResponseDTO, 0, len(subordinates))
	for _, account := range subordinates {
		respDTOs = append(respDTOs, accountToResponseDTO(account))
	}
	respondWithJSON(w, http.StatusOK, respDTOs)
}

package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/app"
	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/middleware"
)

// ChildActivationService consumes a key and creates the child it activates.
type ChildActivationService interface {
	Activate(ctx context.Context, parentID uuid.UUID, input app.NewChildInput) (*domain.Child, *domain.Key, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*domain.Child, error)
}

// ChildHandler handles child activation and listing for parents.
type ChildHandler struct {
	activation ChildActivationService
	logger     *slog.Logger
	validate   *validator.Validate
}

func NewChildHandler(activation ChildActivationService, logger *slog.Logger, validate *validator.Validate) *ChildHandler {
	return &ChildHandler{activation: activation, logger: logger, validate: validate}
}

// RegisterRoutes sets up the parent-only child endpoints.
func (h *ChildHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireRoles(h.logger, domain.RoleParent)).Post("/children", h.Activate)
	r.With(middleware.RequireRoles(h.logger, domain.RoleParent)).Get("/children", h.List)
}

func (h *ChildHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var reqDTO ActivateChildRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	child, key, err := h.activation.Activate(ctx, authUser.ID, app.NewChildInput{
		Name:       reqDTO.Name,
		Age:        reqDTO.Age,
		DeviceIMEI: reqDTO.DeviceIMEI,
	})
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, ActivateChildResponseDTO{
		Child: childToResponseDTO(child),
		Key:   keyToResponseDTO(key, time.Now().UTC()),
	})
}

func (h *ChildHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	children, err := h.activation.ListChildren(ctx, authUser.ID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respDTOs := make([]ChildResponseDTO, 0, len(children))
	for _, child := range children {
		respDTOs = append(respDTOs, childToResponseDTO(child))
	}
	respondWithJSON(w, http.StatusOK, respDTOs)
}

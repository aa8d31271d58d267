package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/middleware"
)

// KeyRequestService is the request/approval workflow surface.
type KeyRequestService interface {
	CreateRequest(ctx context.Context, parentID uuid.UUID, retailerHint *uuid.UUID, message string) (*domain.KeyRequest, error)
	Approve(ctx context.Context, retailerID, requestID uuid.UUID, specificKeyID *uuid.UUID, responseMessage string) (*domain.KeyRequest, *domain.Key, error)
	Deny(ctx context.Context, retailerID, requestID uuid.UUID, responseMessage string) (*domain.KeyRequest, error)
	ListOpen(ctx context.Context, retailerID uuid.UUID) ([]*domain.KeyRequest, error)
}

// KeyLookupService resolves a key token to its record. The approve endpoint
// accepts a token, the service layer wants the key ID.
type KeyLookupService interface {
	KeyIDByToken(ctx context.Context, token string) (uuid.UUID, error)
}

// RequestHandler handles the parent-initiated key request workflow.
type RequestHandler struct {
	requests KeyRequestService
	keys     KeyLookupService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewRequestHandler(requests KeyRequestService, keys KeyLookupService, logger *slog.Logger, validate *validator.Validate) *RequestHandler {
	return &RequestHandler{requests: requests, keys: keys, logger: logger, validate: validate}
}

// RegisterRoutes sets up the authenticated key request endpoints.
func (h *RequestHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireRoles(h.logger, domain.RoleParent)).Post("/key-requests", h.Create)
	r.With(middleware.RequireRoles(h.logger, domain.RoleRetailer)).Get("/key-requests", h.ListOpen)
	r.With(middleware.RequireRoles(h.logger, domain.RoleRetailer)).Patch("/key-requests/{requestID}/approve", h.Approve)
	r.With(middleware.RequireRoles(h.logger, domain.RoleRetailer)).Patch("/key-requests/{requestID}/deny", h.Deny)
}

func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var reqDTO CreateKeyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	request, err := h.requests.CreateRequest(ctx, authUser.ID, reqDTO.RetailerID, reqDTO.Message)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, keyRequestToResponseDTO(request))
}

func (h *RequestHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requests, err := h.requests.ListOpen(ctx, authUser.ID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respDTOs := make([]KeyRequestResponseDTO, 0, len(requests))
	for _, request := range requests {
		respDTOs = append(respDTOs, keyRequestToResponseDTO(request))
	}
	respondWithJSON(w, http.StatusOK, respDTOs)
}

func (h *RequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request ID format")
		return
	}

	var reqDTO ResolveKeyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	var specificKeyID *uuid.UUID
	if reqDTO.KeyToken != "" {
		keyID, err := h.keys.KeyIDByToken(ctx, reqDTO.KeyToken)
		if err != nil {
			respondWithDomainError(w, err)
			return
		}
		specificKeyID = &keyID
	}

	request, key, err := h.requests.Approve(ctx, authUser.ID, requestID, specificKeyID, reqDTO.Message)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ApproveResponseDTO{
		Request: keyRequestToResponseDTO(request),
		Key:     keyToResponseDTO(key, time.Now().UTC()),
	})
}

func (h *RequestHandler) Deny(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request ID format")
		return
	}

	var reqDTO ResolveKeyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	request, err := h.requests.Deny(ctx, authUser.ID, requestID, reqDTO.Message)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, keyRequestToResponseDTO(request))
}

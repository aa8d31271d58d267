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

// KeyGenerationService mints keys into an admin's pool.
type KeyGenerationService interface {
	Generate(ctx context.Context, adminID uuid.UUID, count, keyLength int) ([]*domain.Key, error)
}

// KeyTransferService moves key batches down the hierarchy.
type KeyTransferService interface {
	Transfer(ctx context.Context, fromID, toID uuid.UUID, count int, notes string) (*domain.TransferLog, error)
}

// KeyReportService serves the read-only key views.
type KeyReportService interface {
	KeyStatus(ctx context.Context, accountID uuid.UUID) (*app.KeyStatusSummary, error)
	KeyInfoByToken(ctx context.Context, token string) (*app.KeyInfo, error)
	KeysOwnedBy(ctx context.Context, ownerID uuid.UUID, onlyAvailable bool) ([]*app.KeyInfo, error)
}

// KeyHandler handles key generation, transfer and reporting.
type KeyHandler struct {
	keygen   KeyGenerationService
	transfer KeyTransferService
	reports  KeyReportService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewKeyHandler(
	keygen KeyGenerationService,
	transfer KeyTransferService,
	reports KeyReportService,
	logger *slog.Logger,
	validate *validator.Validate,
) *KeyHandler {
	return &KeyHandler{
		keygen:   keygen,
		transfer: transfer,
		reports:  reports,
		logger:   logger,
		validate: validate,
	}
}

// RegisterRoutes sets up the authenticated key endpoints.
func (h *KeyHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireRoles(h.logger, domain.RoleAdmin)).Post("/keys/generate", h.Generate)
	r.Post("/keys/transfer", h.Transfer)
	r.Get("/keys/status", h.Status)
	r.Get("/keys", h.List)
	r.Get("/keys/{token}", h.Info)
}

func (h *KeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var reqDTO GenerateKeysRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	keys, err := h.keygen.Generate(ctx, authUser.ID, reqDTO.Count, reqDTO.KeyLength)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	respDTO := GenerateKeysResponseDTO{Count: len(keys)}
	for _, key := range keys {
		respDTO.Keys = append(respDTO.Keys, keyToResponseDTO(key, now))
	}
	respondWithJSON(w, http.StatusCreated, respDTO)
}

func (h *KeyHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var reqDTO TransferRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	entry, err := h.transfer.Transfer(ctx, authUser.ID, reqDTO.ToAccountID, reqDTO.Count, reqDTO.Notes)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, TransferResponseDTO{
		FromAccountID: entry.FromUser,
		ToAccountID:   entry.ToUser,
		Count:         entry.Count,
		Status:        string(entry.Status),
	})
}

func (h *KeyHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	summary, err := h.reports.KeyStatus(ctx, authUser.ID)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	onlyAvailable := r.URL.Query().Get("available") == "true"
	infos, err := h.reports.KeysOwnedBy(ctx, authUser.ID, onlyAvailable)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, infos)
}

func (h *KeyHandler) Info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")
	if token == "" {
		respondWithError(w, http.StatusBadRequest, "Key token is required")
		return
	}

	info, err := h.reports.KeyInfoByToken(ctx, token)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

package http

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/middleware"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

// TransferLogService serves audit log queries and exports.
type TransferLogService interface {
	TransferLogs(ctx context.Context, filter repository.TransferLogFilter) ([]*domain.TransferLog, error)
	ExportTransferLogsCSV(ctx context.Context, w io.Writer, filter repository.TransferLogFilter) error
}

// TransferLogHandler handles audit log listing and CSV export.
type TransferLogHandler struct {
	logs   TransferLogService
	logger *slog.Logger
}

func NewTransferLogHandler(logs TransferLogService, logger *slog.Logger) *TransferLogHandler {
	return &TransferLogHandler{logs: logs, logger: logger}
}

// RegisterRoutes sets up the authenticated transfer log endpoints.
func (h *TransferLogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/transfer-logs", h.List)
	r.Get("/transfer-logs/export", h.Export)
}

func (h *TransferLogHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	filter, err := filterFromQuery(r, authUser)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.logs.TransferLogs(ctx, filter)
	if err != nil {
		respondWithDomainError(w, err)
		return
	}
	respDTOs := make([]TransferLogResponseDTO, 0, len(entries))
	for _, entry := range entries {
		respDTOs = append(respDTOs, transferLogToResponseDTO(entry))
	}
	respondWithJSON(w, http.StatusOK, respDTOs)
}

func (h *TransferLogHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	filter, err := filterFromQuery(r, authUser)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Exports are unpaginated unless the caller narrows them.
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = 0
	}

	filename := fmt.Sprintf("transfer-logs-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.logs.ExportTransferLogsCSV(ctx, w, filter); err != nil {
		// Headers may already be out; log and abandon the stream.
		h.logger.ErrorContext(ctx, "CSV export failed", "error", err)
	}
}

// filterFromQuery builds the log filter from query parameters. Non-admins are
// always pinned to their own entries; admins may query any user or all of them.
func filterFromQuery(r *http.Request, authUser middleware.AuthenticatedUser) (repository.TransferLogFilter, error) {
	q := r.URL.Query()
	filter := repository.TransferLogFilter{
		Type:   domain.TransferType(q.Get("type")),
		Status: domain.TransferStatus(q.Get("status")),
	}

	if authUser.Role == domain.RoleAdmin {
		if userStr := q.Get("user"); userStr != "" {
			userID, err := uuid.Parse(userStr)
			if err != nil {
				return filter, fmt.Errorf("invalid user ID format")
			}
			filter.User = &userID
		}
	} else {
		userID := authUser.ID
		filter.User = &userID
	}

	if sinceStr := q.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return filter, fmt.Errorf("invalid since timestamp, want RFC3339")
		}
		filter.Since = &since
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	filter.Limit = limit
	filter.Offset = offset
	return filter, nil
}

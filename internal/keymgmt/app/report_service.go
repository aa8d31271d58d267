package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

// SubordinateKeys summarizes one direct subordinate in a key status report.
type SubordinateKeys struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Received int       `json:"received"`
}

// KeyStatusSummary is an account's ledger view: counters plus the live pool
// count straight from the key store. LiveAvailable always equals Remaining
// when the ledger invariant holds.
type KeyStatusSummary struct {
	TotalReceived    int               `json:"total_received"`
	TotalTransferred int               `json:"total_transferred"`
	Remaining        int               `json:"remaining"`
	LiveAvailable    int               `json:"live_available"`
	TransferredTo    []SubordinateKeys `json:"transferred_to"`
}

// KeyInfo is the public view of a key looked up by token or owner.
type KeyInfo struct {
	Token         string     `json:"token"`
	ValidUntil    time.Time  `json:"valid_until"`
	DaysRemaining int        `json:"days_remaining"`
	IsAssigned    bool       `json:"is_assigned"`
	AssignedTo    *uuid.UUID `json:"assigned_to,omitempty"`
}

// ReportService is a read-only consumer of the key store, ledger and transfer
// log. It never mutates ownership or counters.
type ReportService struct {
	db       repository.Querier
	accounts repository.AccountRepository
	keys     repository.KeyRepository
	logs     repository.TransferLogRepository
	logger   *slog.Logger
}

func NewReportService(
	db repository.Querier,
	accounts repository.AccountRepository,
	keys repository.KeyRepository,
	logs repository.TransferLogRepository,
	logger *slog.Logger,
) *ReportService {
	return &ReportService{
		db:       db,
		accounts: accounts,
		keys:     keys,
		logs:     logs,
		logger:   logger.With("service", "report"),
	}
}

// KeyStatus reports the account's counters, its live pool size and how many
// keys each direct subordinate has received.
func (s *ReportService) KeyStatus(ctx context.Context, accountID uuid.UUID) (*KeyStatusSummary, error) {
	account, err := s.accounts.GetByID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}

	live, err := s.keys.CountAvailable(ctx, s.db, account.ID)
	if err != nil {
		return nil, err
	}

	subordinates, err := s.accounts.ListByCreator(ctx, s.db, account.ID)
	if err != nil {
		return nil, err
	}

	summary := &KeyStatusSummary{
		TotalReceived:    account.ReceivedKeys,
		TotalTransferred: account.TransferredKeys,
		Remaining:        account.Balance(),
		LiveAvailable:    live,
	}
	for _, sub := range subordinates {
		summary.TransferredTo = append(summary.TransferredTo, SubordinateKeys{
			ID:       sub.ID,
			Name:     sub.Name,
			Received: sub.ReceivedKeys,
		})
	}
	return summary, nil
}

// KeyIDByToken resolves a key token to its ID.
func (s *ReportService) KeyIDByToken(ctx context.Context, token string) (uuid.UUID, error) {
	key, err := s.keys.GetByToken(ctx, s.db, token)
	if err != nil {
		return uuid.Nil, err
	}
	return key.ID, nil
}

// KeyInfoByToken looks up a single key.
func (s *ReportService) KeyInfoByToken(ctx context.Context, token string) (*KeyInfo, error) {
	key, err := s.keys.GetByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	return keyInfoOf(key), nil
}

// KeysOwnedBy lists the keys in an account's pool.
func (s *ReportService) KeysOwnedBy(ctx context.Context, ownerID uuid.UUID, onlyAvailable bool) ([]*KeyInfo, error) {
	keys, err := s.keys.ListByOwner(ctx, s.db, ownerID, onlyAvailable)
	if err != nil {
		return nil, err
	}
	infos := make([]*KeyInfo, 0, len(keys))
	for _, key := range keys {
		infos = append(infos, keyInfoOf(key))
	}
	return infos, nil
}

// TransferLogs lists audit entries matching the filter.
func (s *ReportService) TransferLogs(ctx context.Context, filter repository.TransferLogFilter) ([]*domain.TransferLog, error) {
	return s.logs.List(ctx, s.db, filter)
}

// ExportTransferLogsCSV streams matching audit entries as CSV.
func (s *ReportService) ExportTransferLogsCSV(ctx context.Context, w io.Writer, filter repository.TransferLogFilter) error {
	entries, err := s.logs.List(ctx, s.db, filter)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	header := []string{"Date", "Quantity", "From", "To", "Status", "TransferType", "Notes", "Reference"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("csv writer error: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.Date.UTC().Format("2006-01-02"),
			fmt.Sprintf("%d", e.Count),
			e.FromUser.String(),
			e.ToUser.String(),
			string(e.Status),
			string(e.Type),
			e.Notes,
			e.Reference,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("csv writer error: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func keyInfoOf(key *domain.Key) *KeyInfo {
	return &KeyInfo{
		Token:         key.Token,
		ValidUntil:    key.ValidUntil,
		DaysRemaining: key.DaysRemaining(time.Now().UTC()),
		IsAssigned:    key.IsAssigned,
		AssignedTo:    key.AssignedTo,
	}
}

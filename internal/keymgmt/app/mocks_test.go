package app

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
	"github.com/kidshield/keyserver/internal/keymgmt/repository"
)

// --- Mocks ---

type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, q repository.Querier, account *domain.Account) error {
	args := m.Called(ctx, q, account)
	return args.Error(0)
}
func (m *MockAccountRepository) GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Account, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}
func (m *MockAccountRepository) GetByEmail(ctx context.Context, q repository.Querier, email string) (*domain.Account, error) {
	args := m.Called(ctx, q, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}
func (m *MockAccountRepository) ListByCreator(ctx context.Context, q repository.Querier, creatorID uuid.UUID) ([]*domain.Account, error) {
	args := m.Called(ctx, q, creatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Account), args.Error(1)
}
func (m *MockAccountRepository) IncrementReceived(ctx context.Context, q repository.Querier, id uuid.UUID, n int) error {
	args := m.Called(ctx, q, id, n)
	return args.Error(0)
}
func (m *MockAccountRepository) IncrementTransferred(ctx context.Context, q repository.Querier, id uuid.UUID, n int) error {
	args := m.Called(ctx, q, id, n)
	return args.Error(0)
}
func (m *MockAccountRepository) IncrementGenerated(ctx context.Context, q repository.Querier, id uuid.UUID, n int) error {
	args := m.Called(ctx, q, id, n)
	return args.Error(0)
}
func (m *MockAccountRepository) UpdateRefreshTokenHash(ctx context.Context, q repository.Querier, id uuid.UUID, hash *string) error {
	args := m.Called(ctx, q, id, hash)
	return args.Error(0)
}
func (m *MockAccountRepository) Delete(ctx context.Context, q repository.Querier, id uuid.UUID) error {
	args := m.Called(ctx, q, id)
	return args.Error(0)
}

type MockKeyRepository struct {
	mock.Mock
}

func (m *MockKeyRepository) Create(ctx context.Context, q repository.Querier, key *domain.Key) error {
	args := m.Called(ctx, q, key)
	return args.Error(0)
}
func (m *MockKeyRepository) GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Key, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Key), args.Error(1)
}
func (m *MockKeyRepository) GetByToken(ctx context.Context, q repository.Querier, token string) (*domain.Key, error) {
	args := m.Called(ctx, q, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Key), args.Error(1)
}
func (m *MockKeyRepository) ListByOwner(ctx context.Context, q repository.Querier, owner uuid.UUID, onlyAvailable bool) ([]*domain.Key, error) {
	args := m.Called(ctx, q, owner, onlyAvailable)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Key), args.Error(1)
}
func (m *MockKeyRepository) CountAvailable(ctx context.Context, q repository.Querier, owner uuid.UUID) (int, error) {
	args := m.Called(ctx, q, owner)
	return args.Int(0), args.Error(1)
}
func (m *MockKeyRepository) MoveBatch(ctx context.Context, q repository.Querier, from, to uuid.UUID, count int) (int, error) {
	args := m.Called(ctx, q, from, to, count)
	return args.Int(0), args.Error(1)
}
func (m *MockKeyRepository) MoveSpecific(ctx context.Context, q repository.Querier, keyID, from, to uuid.UUID) (*domain.Key, error) {
	args := m.Called(ctx, q, keyID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Key), args.Error(1)
}
func (m *MockKeyRepository) MoveOldest(ctx context.Context, q repository.Querier, from, to uuid.UUID) (*domain.Key, error) {
	args := m.Called(ctx, q, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Key), args.Error(1)
}
func (m *MockKeyRepository) ConsumeOldest(ctx context.Context, q repository.Querier, owner, childID uuid.UUID, assignedAt, validUntil time.Time) (*domain.Key, error) {
	args := m.Called(ctx, q, owner, childID, assignedAt, validUntil)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Key), args.Error(1)
}
func (m *MockKeyRepository) ReclaimFromOwner(ctx context.Context, q repository.Querier, owner uuid.UUID) (map[uuid.UUID]int, error) {
	args := m.Called(ctx, q, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]int), args.Error(1)
}

type MockTransferLogRepository struct {
	mock.Mock
}

func (m *MockTransferLogRepository) Create(ctx context.Context, q repository.Querier, entry *domain.TransferLog) error {
	args := m.Called(ctx, q, entry)
	return args.Error(0)
}
func (m *MockTransferLogRepository) List(ctx context.Context, q repository.Querier, filter repository.TransferLogFilter) ([]*domain.TransferLog, error) {
	args := m.Called(ctx, q, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.TransferLog), args.Error(1)
}

type MockKeyRequestRepository struct {
	mock.Mock
}

func (m *MockKeyRequestRepository) Create(ctx context.Context, q repository.Querier, request *domain.KeyRequest) error {
	args := m.Called(ctx, q, request)
	return args.Error(0)
}
func (m *MockKeyRequestRepository) GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.KeyRequest, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KeyRequest), args.Error(1)
}
func (m *MockKeyRequestRepository) ListOpenForRetailer(ctx context.Context, q repository.Querier, retailerID uuid.UUID) ([]*domain.KeyRequest, error) {
	args := m.Called(ctx, q, retailerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KeyRequest), args.Error(1)
}
func (m *MockKeyRequestRepository) Resolve(ctx context.Context, q repository.Querier, id uuid.UUID, status domain.RequestStatus, retailerID uuid.UUID, responseMessage string) (*domain.KeyRequest, error) {
	args := m.Called(ctx, q, id, status, retailerID, responseMessage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KeyRequest), args.Error(1)
}
func (m *MockKeyRequestRepository) SetAssignedKey(ctx context.Context, q repository.Querier, id, keyID uuid.UUID) error {
	args := m.Called(ctx, q, id, keyID)
	return args.Error(0)
}

type MockChildRepository struct {
	mock.Mock
}

func (m *MockChildRepository) Create(ctx context.Context, q repository.Querier, child *domain.Child) error {
	args := m.Called(ctx, q, child)
	return args.Error(0)
}
func (m *MockChildRepository) GetByID(ctx context.Context, q repository.Querier, id uuid.UUID) (*domain.Child, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Child), args.Error(1)
}
func (m *MockChildRepository) ListByParent(ctx context.Context, q repository.Querier, parentID uuid.UUID) ([]*domain.Child, error) {
	args := m.Called(ctx, q, parentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Child), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, payload map[string]any) error {
	args := m.Called(ctx, userID, event, payload)
	return args.Error(0)
}

// fakeTxManager runs fn directly; a returned error stands in for a rollback.
type fakeTxManager struct{}

func (fakeTxManager) WithinTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return fn(nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

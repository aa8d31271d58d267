package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
)

func newKeygenFixture() (*KeygenService, *MockAccountRepository, *MockKeyRepository) {
	accounts := new(MockAccountRepository)
	keys := new(MockKeyRepository)
	svc := NewKeygenService(nil, fakeTxManager{}, accounts, keys, 16, 2, testLogger())
	return svc, accounts, keys
}

func TestGenerate_MintsRequestedCount(t *testing.T) {
	svc, accounts, keys := newKeygenFixture()
	ctx := context.Background()

	admin := &domain.Account{ID: uuid.New(), Role: domain.RoleAdmin}
	accounts.On("GetByID", ctx, mock.Anything, admin.ID).Return(admin, nil)
	keys.On("GetByToken", ctx, mock.Anything, mock.Anything).Return(nil, domain.ErrKeyNotFound)
	keys.On("Create", ctx, mock.Anything, mock.MatchedBy(func(k *domain.Key) bool {
		return k.CurrentOwner == admin.ID && k.GeneratedBy == admin.ID && len(k.Token) == 16
	})).Return(nil)
	accounts.On("IncrementGenerated", ctx, mock.Anything, admin.ID, 5).Return(nil)

	generated, err := svc.Generate(ctx, admin.ID, 5, 0)
	assert.NoError(t, err)
	assert.Len(t, generated, 5)
	keys.AssertNumberOfCalls(t, "Create", 5)
	accounts.AssertExpectations(t)

	// Every token is unique within the batch.
	seen := make(map[string]bool, len(generated))
	for _, k := range generated {
		assert.False(t, seen[k.Token])
		seen[k.Token] = true
	}
}

func TestGenerate_RetriesOnTokenCollision(t *testing.T) {
	svc, accounts, keys := newKeygenFixture()
	ctx := context.Background()

	admin := &domain.Account{ID: uuid.New(), Role: domain.RoleAdmin}
	accounts.On("GetByID", ctx, mock.Anything, admin.ID).Return(admin, nil)
	// First candidate token already exists; the next draw is fresh.
	keys.On("GetByToken", ctx, mock.Anything, mock.Anything).Return(&domain.Key{ID: uuid.New()}, nil).Once()
	keys.On("GetByToken", ctx, mock.Anything, mock.Anything).Return(nil, domain.ErrKeyNotFound)
	keys.On("Create", ctx, mock.Anything, mock.Anything).Return(nil)
	accounts.On("IncrementGenerated", ctx, mock.Anything, admin.ID, 1).Return(nil)

	generated, err := svc.Generate(ctx, admin.ID, 1, 0)
	assert.NoError(t, err)
	assert.Len(t, generated, 1)
	keys.AssertNumberOfCalls(t, "GetByToken", 2)
	keys.AssertNumberOfCalls(t, "Create", 1)
}

func TestGenerate_NonAdminDenied(t *testing.T) {
	svc, accounts, keys := newKeygenFixture()
	ctx := context.Background()

	nd := &domain.Account{ID: uuid.New(), Role: domain.RoleND}
	accounts.On("GetByID", ctx, mock.Anything, nd.ID).Return(nd, nil)

	_, err := svc.Generate(ctx, nd.ID, 5, 0)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	keys.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerate_RejectsBadArguments(t *testing.T) {
	svc, _, _ := newKeygenFixture()
	ctx := context.Background()

	_, err := svc.Generate(ctx, uuid.New(), 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Generate(ctx, uuid.New(), 5, 4)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
)

func newActivationFixture() (*ActivationService, *MockAccountRepository, *MockKeyRepository, *MockChildRepository, *MockTransferLogRepository, *MockNotifier) {
	accounts := new(MockAccountRepository)
	keys := new(MockKeyRepository)
	children := new(MockChildRepository)
	logs := new(MockTransferLogRepository)
	notifier := new(MockNotifier)
	svc := NewActivationService(nil, fakeTxManager{}, accounts, keys, children, logs, notifier, 2, testLogger())
	return svc, accounts, keys, children, logs, notifier
}

func TestActivate_ConsumesKeyAndCreatesChild(t *testing.T) {
	svc, accounts, keys, children, logs, notifier := newActivationFixture()
	ctx := context.Background()

	parent := &domain.Account{ID: uuid.New(), Role: domain.RoleParent, ReceivedKeys: 1}
	key := &domain.Key{ID: uuid.New(), Token: "deadbeef01020304", CurrentOwner: parent.ID, IsAssigned: true}

	accounts.On("GetByID", ctx, mock.Anything, parent.ID).Return(parent, nil)
	keys.On("ConsumeOldest", ctx, mock.Anything, parent.ID, mock.Anything, mock.Anything, mock.Anything).Return(key, nil)
	children.On("Create", ctx, mock.Anything, mock.MatchedBy(func(c *domain.Child) bool {
		return c.Name == "Ada" && c.Age == 9 && c.ParentID == parent.ID && c.KeyID == key.ID
	})).Return(nil)
	accounts.On("IncrementTransferred", ctx, mock.Anything, parent.ID, 1).Return(nil)
	logs.On("Create", ctx, mock.Anything, mock.MatchedBy(func(e *domain.TransferLog) bool {
		return e.Type == domain.TransferTypeActivate && e.FromUser == parent.ID && e.Reference == key.Token
	})).Return(nil)
	notifier.On("Notify", ctx, parent.ID, "child.activated", mock.Anything).Return(nil)

	child, gotKey, err := svc.Activate(ctx, parent.ID, NewChildInput{Name: "Ada", Age: 9})
	assert.NoError(t, err)
	assert.Equal(t, key.ID, gotKey.ID)
	assert.Equal(t, key.ID, child.KeyID)
	children.AssertExpectations(t)
	logs.AssertExpectations(t)
}

func TestActivate_EmptyPoolFailsWithoutChild(t *testing.T) {
	svc, accounts, keys, children, logs, _ := newActivationFixture()
	ctx := context.Background()

	parent := &domain.Account{ID: uuid.New(), Role: domain.RoleParent}
	accounts.On("GetByID", ctx, mock.Anything, parent.ID).Return(parent, nil)
	keys.On("ConsumeOldest", ctx, mock.Anything, parent.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrInsufficientInventory)

	_, _, err := svc.Activate(ctx, parent.ID, NewChildInput{Name: "Ada", Age: 9})
	assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
	children.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	logs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestActivate_NonParentDenied(t *testing.T) {
	svc, accounts, keys, _, _, _ := newActivationFixture()
	ctx := context.Background()

	retailer := &domain.Account{ID: uuid.New(), Role: domain.RoleRetailer}
	accounts.On("GetByID", ctx, mock.Anything, retailer.ID).Return(retailer, nil)

	_, _, err := svc.Activate(ctx, retailer.ID, NewChildInput{Name: "Ada", Age: 9})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	keys.AssertNotCalled(t, "ConsumeOldest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestActivate_RejectsMissingProfile(t *testing.T) {
	svc, _, _, _, _, _ := newActivationFixture()
	ctx := context.Background()

	_, _, err := svc.Activate(ctx, uuid.New(), NewChildInput{Name: "", Age: 9})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, _, err = svc.Activate(ctx, uuid.New(), NewChildInput{Name: "Ada", Age: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

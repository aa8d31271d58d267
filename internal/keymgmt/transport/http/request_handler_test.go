package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
)

type MockRequestSvc struct {
	mock.Mock
}

func (m *MockRequestSvc) CreateRequest(ctx context.Context, parentID uuid.UUID, retailerHint *uuid.UUID, message string) (*domain.KeyRequest, error) {
	args := m.Called(ctx, parentID, retailerHint, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KeyRequest), args.Error(1)
}
func (m *MockRequestSvc) Approve(ctx context.Context, retailerID, requestID uuid.UUID, specificKeyID *uuid.UUID, responseMessage string) (*domain.KeyRequest, *domain.Key, error) {
	args := m.Called(ctx, retailerID, requestID, specificKeyID, responseMessage)
	var request *domain.KeyRequest
	var key *domain.Key
	if args.Get(0) != nil {
		request = args.Get(0).(*domain.KeyRequest)
	}
	if args.Get(1) != nil {
		key = args.Get(1).(*domain.Key)
	}
	return request, key, args.Error(2)
}
func (m *MockRequestSvc) Deny(ctx context.Context, retailerID, requestID uuid.UUID, responseMessage string) (*domain.KeyRequest, error) {
	args := m.Called(ctx, retailerID, requestID, responseMessage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KeyRequest), args.Error(1)
}
func (m *MockRequestSvc) ListOpen(ctx context.Context, retailerID uuid.UUID) ([]*domain.KeyRequest, error) {
	args := m.Called(ctx, retailerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KeyRequest), args.Error(1)
}

type MockKeyLookupSvc struct {
	mock.Mock
}

func (m *MockKeyLookupSvc) KeyIDByToken(ctx context.Context, token string) (uuid.UUID, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func newRequestRouter(requests *MockRequestSvc, keys *MockKeyLookupSvc) chi.Router {
	handler := NewRequestHandler(requests, keys, handlerTestLogger(), validator.New())
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func TestRequestHandler_CreateAcceptsEmptyBody(t *testing.T) {
	requests := new(MockRequestSvc)
	router := newRequestRouter(requests, new(MockKeyLookupSvc))

	parentID := uuid.New()
	created := &domain.KeyRequest{
		ID: uuid.New(), FromParent: parentID, Status: domain.RequestStatusPending,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	requests.On("CreateRequest", mock.Anything, parentID, (*uuid.UUID)(nil), "").Return(created, nil)

	// A parent with no preferred retailer posts an empty body.
	req := httptest.NewRequest(http.MethodPost, "/key-requests", nil)
	req = withAuthUser(req, parentID, domain.RoleParent)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp KeyRequestResponseDTO
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "pending", resp.Status)
	requests.AssertExpectations(t)
}

func TestRequestHandler_CreateRequiresParentRole(t *testing.T) {
	requests := new(MockRequestSvc)
	router := newRequestRouter(requests, new(MockKeyLookupSvc))

	req := httptest.NewRequest(http.MethodPost, "/key-requests", nil)
	req = withAuthUser(req, uuid.New(), domain.RoleRetailer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	requests.AssertNotCalled(t, "CreateRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestHandler_ApproveWithKeyToken(t *testing.T) {
	requests := new(MockRequestSvc)
	keys := new(MockKeyLookupSvc)
	router := newRequestRouter(requests, keys)

	retailerID := uuid.New()
	requestID := uuid.New()
	keyID := uuid.New()
	keys.On("KeyIDByToken", mock.Anything, "aabbccdd00112233").Return(keyID, nil)

	approved := &domain.KeyRequest{
		ID: requestID, FromParent: uuid.New(), ToRetailer: &retailerID,
		Status: domain.RequestStatusApproved, AssignedKey: &keyID,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	grantedKey := &domain.Key{ID: keyID, Token: "aabbccdd00112233", ValidUntil: time.Now().AddDate(2, 0, 0)}
	requests.On("Approve", mock.Anything, retailerID, requestID, &keyID, "enjoy").Return(approved, grantedKey, nil)

	body, _ := json.Marshal(ResolveKeyRequestDTO{KeyToken: "aabbccdd00112233", Message: "enjoy"})
	req := httptest.NewRequest(http.MethodPatch, "/key-requests/"+requestID.String()+"/approve", bytes.NewReader(body))
	req = withAuthUser(req, retailerID, domain.RoleRetailer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ApproveResponseDTO
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "approved", resp.Request.Status)
	assert.Equal(t, "aabbccdd00112233", resp.Key.Token)
	requests.AssertExpectations(t)
	keys.AssertExpectations(t)
}

func TestRequestHandler_ApproveConflictWhenAlreadyResolved(t *testing.T) {
	requests := new(MockRequestSvc)
	router := newRequestRouter(requests, new(MockKeyLookupSvc))

	retailerID := uuid.New()
	requestID := uuid.New()
	requests.On("Approve", mock.Anything, retailerID, requestID, (*uuid.UUID)(nil), "").
		Return(nil, nil, domain.ErrRequestAlreadyResolved)

	req := httptest.NewRequest(http.MethodPatch, "/key-requests/"+requestID.String()+"/approve", nil)
	req = withAuthUser(req, retailerID, domain.RoleRetailer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestHandler_ApproveRejectsMalformedID(t *testing.T) {
	router := newRequestRouter(new(MockRequestSvc), new(MockKeyLookupSvc))

	req := httptest.NewRequest(http.MethodPatch, "/key-requests/not-a-uuid/approve", nil)
	req = withAuthUser(req, uuid.New(), domain.RoleRetailer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestHandler_DenyResolvesRequest(t *testing.T) {
	requests := new(MockRequestSvc)
	router := newRequestRouter(requests, new(MockKeyLookupSvc))

	retailerID := uuid.New()
	requestID := uuid.New()
	denied := &domain.KeyRequest{
		ID: requestID, FromParent: uuid.New(), ToRetailer: &retailerID,
		Status: domain.RequestStatusDenied, ResponseMessage: "out of stock",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	requests.On("Deny", mock.Anything, retailerID, requestID, "out of stock").Return(denied, nil)

	body, _ := json.Marshal(ResolveKeyRequestDTO{Message: "out of stock"})
	req := httptest.NewRequest(http.MethodPatch, "/key-requests/"+requestID.String()+"/deny", bytes.NewReader(body))
	req = withAuthUser(req, retailerID, domain.RoleRetailer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp KeyRequestResponseDTO
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "denied", resp.Status)
	assert.Equal(t, "out of stock", resp.Response)
}

func TestRequestHandler_ListOpen(t *testing.T) {
	requests := new(MockRequestSvc)
	router := newRequestRouter(requests, new(MockKeyLookupSvc))

	retailerID := uuid.New()
	open := []*domain.KeyRequest{
		{ID: uuid.New(), FromParent: uuid.New(), ToRetailer: &retailerID, Status: domain.RequestStatusPending},
		{ID: uuid.New(), FromParent: uuid.New(), Status: domain.RequestStatusPending},
	}
	requests.On("ListOpen", mock.Anything, retailerID).Return(open, nil)

	req := httptest.NewRequest(http.MethodGet, "/key-requests", nil)
	req = withAuthUser(req, retailerID, domain.RoleRetailer)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp []KeyRequestResponseDTO
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp, 2)
}

package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/kidshield/keyserver/internal/keymgmt/domain"
)

// --- Auth DTOs ---

type LoginRequestDTO struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequestDTO struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LoginResponseDTO struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	ExpiresAt    time.Time          `json:"expires_at"`
	Account      AccountResponseDTO `json:"account"`
}

// --- Account DTOs ---

type CreateAccountRequestDTO struct {
	Name        string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"required"`
	Password    string `json:"password" validate:"required,min=8"`
	CompanyName string `json:"company_name"`
	Address     string `json:"address"`
	Notes       string `json:"notes"`
}

type CreateParentRequestDTO struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required"`
	Password   string `json:"password" validate:"omitempty,min=8"`
	DeviceIMEI string `json:"device_imei" validate:"required"`
	KeyToken   string `json:"key_token" validate:"required"`
	Notes      string `json:"notes"`
}

type AccountResponseDTO struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	Role            string     `json:"role"`
	CreatedBy       *uuid.UUID `json:"created_by,omitempty"`
	ReceivedKeys    int        `json:"received_keys"`
	TransferredKeys int        `json:"transferred_keys"`
	RemainingKeys   int        `json:"remaining_keys"`
	CompanyName     string     `json:"company_name,omitempty"`
	Address         string     `json:"address,omitempty"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

type CreateParentResponseDTO struct {
	Account           AccountResponseDTO `json:"account"`
	GeneratedPassword string             `json:"generated_password,omitempty"`
}

// --- Key DTOs ---

type GenerateKeysRequestDTO struct {
	Count     int `json:"count" validate:"required,min=1,max=10000"`
	KeyLength int `json:"key_length" validate:"omitempty,min=8,max=64"`
}

type KeyResponseDTO struct {
	Token         string     `json:"token"`
	ValidUntil    time.Time  `json:"valid_until"`
	DaysRemaining int        `json:"days_remaining"`
	IsAssigned    bool       `json:"is_assigned"`
	AssignedTo    *uuid.UUID `json:"assigned_to,omitempty"`
}

type GenerateKeysResponseDTO struct {
	Count int              `json:"count"`
	Keys  []KeyResponseDTO `json:"keys"`
}

type TransferRequestDTO struct {
	ToAccountID uuid.UUID `json:"to_account_id" validate:"required"`
	Count       int       `json:"count" validate:"required,min=1"`
	Notes       string    `json:"notes"`
}

type TransferResponseDTO struct {
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Count         int       `json:"count"`
	Status        string    `json:"status"`
}

// --- Key request DTOs ---

type CreateKeyRequestDTO struct {
	RetailerID *uuid.UUID `json:"retailer_id,omitempty"`
	Message    string     `json:"message"`
}

type ResolveKeyRequestDTO struct {
	KeyToken string `json:"key_token"`
	Message  string `json:"message"`
}

type KeyRequestResponseDTO struct {
	ID          uuid.UUID  `json:"id"`
	FromParent  uuid.UUID  `json:"from_parent"`
	ToRetailer  *uuid.UUID `json:"to_retailer,omitempty"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	Response    string     `json:"response,omitempty"`
	AssignedKey *uuid.UUID `json:"assigned_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ApproveResponseDTO struct {
	Request KeyRequestResponseDTO `json:"request"`
	Key     KeyResponseDTO        `json:"key"`
}

// --- Child DTOs ---

type ActivateChildRequestDTO struct {
	Name       string  `json:"name" validate:"required"`
	Age        int     `json:"age" validate:"required,min=1,max=18"`
	DeviceIMEI *string `json:"device_imei,omitempty"`
}

type ChildResponseDTO struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Age        int       `json:"age"`
	DeviceIMEI *string   `json:"device_imei,omitempty"`
	ParentID   uuid.UUID `json:"parent_id"`
	KeyID      uuid.UUID `json:"key_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type ActivateChildResponseDTO struct {
	Child ChildResponseDTO `json:"child"`
	Key   KeyResponseDTO   `json:"key"`
}

// --- Transfer log DTOs ---

type TransferLogResponseDTO struct {
	ID        uuid.UUID `json:"id"`
	Date      time.Time `json:"date"`
	FromUser  uuid.UUID `json:"from_user"`
	ToUser    uuid.UUID `json:"to_user"`
	Count     int       `json:"count"`
	Status    string    `json:"status"`
	Type      string    `json:"type"`
	Notes     string    `json:"notes,omitempty"`
	Reference string    `json:"reference,omitempty"`
}

// --- Converters ---

func accountToResponseDTO(account *domain.Account) AccountResponseDTO {
	return AccountResponseDTO{
		ID:              account.ID,
		Name:            account.Name,
		Email:           account.Email,
		Phone:           account.Phone,
		Role:            string(account.Role),
		CreatedBy:       account.CreatedBy,
		ReceivedKeys:    account.ReceivedKeys,
		TransferredKeys: account.TransferredKeys,
		RemainingKeys:   account.Balance(),
		CompanyName:     account.CompanyName,
		Address:         account.Address,
		Status:          string(account.Status),
		CreatedAt:       account.CreatedAt,
	}
}

func keyToResponseDTO(key *domain.Key, now time.Time) KeyResponseDTO {
	return KeyResponseDTO{
		Token:         key.Token,
		ValidUntil:    key.ValidUntil,
		DaysRemaining: key.DaysRemaining(now),
		IsAssigned:    key.IsAssigned,
		AssignedTo:    key.AssignedTo,
	}
}

func keyRequestToResponseDTO(request *domain.KeyRequest) KeyRequestResponseDTO {
	return KeyRequestResponseDTO{
		ID:          request.ID,
		FromParent:  request.FromParent,
		ToRetailer:  request.ToRetailer,
		Status:      string(request.Status),
		Message:     request.Message,
		Response:    request.ResponseMessage,
		AssignedKey: request.AssignedKey,
		CreatedAt:   request.CreatedAt,
		UpdatedAt:   request.UpdatedAt,
	}
}

func childToResponseDTO(child *domain.Child) ChildResponseDTO {
	return ChildResponseDTO{
		ID:         child.ID,
		Name:       child.Name,
		Age:        child.Age,
		DeviceIMEI: child.DeviceIMEI,
		ParentID:   child.ParentID,
		KeyID:      child.KeyID,
		CreatedAt:  child.CreatedAt,
	}
}

func transferLogToResponseDTO(entry *domain.TransferLog) TransferLogResponseDTO {
	return TransferLogResponseDTO{
		ID:        entry.ID,
		Date:      entry.Date,
		FromUser:  entry.FromUser,
		ToUser:    entry.ToUser,
		Count:     entry.Count,
		Status:    string(entry.Status),
		Type:      string(entry.Type),
		Notes:     entry.Notes,
		Reference: entry.Reference,
	}
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies an account's position in the distribution hierarchy.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleND       Role = "nd" // national distributor
	RoleSS       Role = "ss" // state supervisor
	RoleDB       Role = "db" // district / business
	RoleRetailer Role = "retailer"
	RoleParent   Role = "parent"
)

// subordinateRole is the static adjacency table for the hierarchy. Each role may
// only hand keys to the role directly below it.
var subordinateRole = map[Role]Role{
	RoleAdmin:    RoleND,
	RoleND:       RoleSS,
	RoleSS:       RoleDB,
	RoleDB:       RoleRetailer,
	RoleRetailer: RoleParent,
}

// Subordinate returns the role directly below r, if any.
func (r Role) Subordinate() (Role, bool) {
	sub, ok := subordinateRole[r]
	return sub, ok
}

// Valid reports whether r is a known hierarchy role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleND, RoleSS, RoleDB, RoleRetailer, RoleParent:
		return true
	}
	return false
}

// CanBulkTransfer reports whether a bulk key transfer from role `from` to role
// `to` is permitted. Retailers never bulk-transfer: they hand out single keys
// through parent creation, which carries its own side effects.
func CanBulkTransfer(from, to Role) bool {
	if from == RoleRetailer {
		return false
	}
	return subordinateRole[from] == to
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusBlocked  AccountStatus = "blocked"
)

// Account generalizes every hierarchy role. CreatedBy points at the account's
// parent in the tree (nil for admins).
//
// ReceivedKeys and TransferredKeys are the ledger counters: for any account,
// ReceivedKeys - TransferredKeys must equal the number of keys it currently
// owns that have not been terminally consumed. Key generation counts toward
// the minting admin's ReceivedKeys so the equality holds at the top of the
// tree as well.
//
// AssignedKeys and UsedKeys are legacy balance-display counters kept for old
// clients; the transfer engine never writes them.
type Account struct {
	ID               uuid.UUID     `json:"id"`
	Name             string        `json:"name"`
	Email            string        `json:"email"`
	Phone            string        `json:"phone"`
	PasswordHash     string        `json:"-"`
	Role             Role          `json:"role"`
	CreatedBy        *uuid.UUID    `json:"created_by,omitempty"`
	ReceivedKeys     int           `json:"received_keys"`
	TransferredKeys  int           `json:"transferred_keys"`
	AssignedKeys     int           `json:"assigned_keys"`
	UsedKeys         int           `json:"used_keys"`
	TotalGenerated   int           `json:"total_generated"`
	CompanyName      string        `json:"company_name,omitempty"`
	Address          string        `json:"address,omitempty"`
	Status           AccountStatus `json:"status"`
	DeviceIMEI       *string       `json:"device_imei,omitempty"` // parents only
	RefreshTokenHash *string       `json:"-"`
	Notes            string        `json:"notes,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Balance is the number of keys the account can still hand out.
func (a *Account) Balance() int {
	return a.ReceivedKeys - a.TransferredKeys
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DApp is the billing and policy subject of a relayed transaction.
type DApp struct {
	// ID is the opaque identifier of the DApp.
	ID string `json:"id" gorm:"column:id;primaryKey;size:64"`
	// Name is the display name used in alert emails.
	Name string `json:"name" gorm:"column:name;not null"`
	// Active gates every relay billed to this DApp.
	Active bool `json:"active" gorm:"column:active;default:true"`
	// Balance is the prepaid balance in minor units (peb). Only settlement debits it.
	Balance decimal.Decimal `json:"balance" gorm:"column:balance;type:decimal(78,0);not null;default:0"`
	// TotalUsed is the cumulative fee consumed, never decreasing.
	TotalUsed decimal.Decimal `json:"totalUsed" gorm:"column:total_used;type:decimal(78,0);not null;default:0"`
	// TerminationDate is the last calendar day (UTC+9) the DApp may relay on.
	TerminationDate *time.Time `json:"terminationDate,omitempty" gorm:"column:termination_date"`
	// SwapDecoder selects how swap calldata to this DApp's swap-enabled contracts is decoded.
	SwapDecoder string `json:"swapDecoder,omitempty" gorm:"column:swap_decoder;size:32"`
	// CreatedAt is the creation time of the DApp.
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	// UpdatedAt is the time of the last settlement or administrative edit.
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`

	Contracts []Contract `json:"contracts,omitempty" gorm:"foreignKey:DAppID;constraint:OnDelete:CASCADE"`
	Senders   []Sender   `json:"senders,omitempty" gorm:"foreignKey:DAppID;constraint:OnDelete:CASCADE"`
	APIKeys   []APIKey   `json:"-" gorm:"foreignKey:DAppID;constraint:OnDelete:CASCADE"`
}

func (DApp) TableName() string {
	return "dapps"
}

// HasWhitelist reports whether any active contract or sender entry is
// registered. Deactivated entries restrict nothing.
func (d *DApp) HasWhitelist() bool {
	for _, c := range d.Contracts {
		if c.Active {
			return true
		}
	}
	for _, s := range d.Senders {
		if s.Active {
			return true
		}
	}
	return false
}

// MatchesWhitelist reports whether to matches an active contract entry or
// from matches an active sender entry. Addresses must be normalized.
func (d *DApp) MatchesWhitelist(to, from string) bool {
	for _, c := range d.Contracts {
		if c.Active && c.Address == to {
			return true
		}
	}
	for _, s := range d.Senders {
		if s.Active && s.Address == from {
			return true
		}
	}
	return false
}

// SwapContract returns the active swap-enabled contract entry for address, if any.
func (d *DApp) SwapContract(address string) *Contract {
	for i := range d.Contracts {
		c := &d.Contracts[i]
		if c.Active && c.HasSwap && c.Address == address {
			return c
		}
	}
	return nil
}

// Contract is a whitelisted destination address.
type Contract struct {
	ID     string `json:"id" gorm:"column:id;primaryKey;size:64"`
	DAppID string `json:"dappId" gorm:"column:dapp_id;index;not null;size:64"`
	// Address is the lower-case 0x-prefixed contract address.
	Address string `json:"address" gorm:"column:address;index;not null;size:42"`
	Active  bool   `json:"active" gorm:"column:active;default:true"`
	// HasSwap marks the contract as a swap router whose calldata must be validated.
	HasSwap bool `json:"hasSwap" gorm:"column:has_swap;default:false"`
	// SwapAddress is the token expected on one side of every swap through this contract.
	SwapAddress *string   `json:"swapAddress,omitempty" gorm:"column:swap_address;size:42"`
	CreatedAt   time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
}

func (Contract) TableName() string {
	return "contracts"
}

// Sender is a whitelisted origin address.
type Sender struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey;size:64"`
	DAppID    string    `json:"dappId" gorm:"column:dapp_id;index;not null;size:64"`
	Address   string    `json:"address" gorm:"column:address;index;not null;size:42"`
	Active    bool      `json:"active" gorm:"column:active;default:true"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
}

func (Sender) TableName() string {
	return "senders"
}

// APIKey is an alternate credential bound to a single DApp.
type APIKey struct {
	ID        string    `json:"id" gorm:"column:id;primaryKey;size:64"`
	DAppID    string    `json:"dappId" gorm:"column:dapp_id;index;not null;size:64"`
	Key       string    `json:"-" gorm:"column:key;uniqueIndex;not null"`
	Active    bool      `json:"active" gorm:"column:active;default:true"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

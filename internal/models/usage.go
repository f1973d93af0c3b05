package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractUsage aggregates the fee consumed per (DApp, destination).
type ContractUsage struct {
	ID        string          `json:"id" gorm:"column:id;primaryKey;size:64"`
	DAppID    string          `json:"dappId" gorm:"column:dapp_id;not null;size:64;uniqueIndex:idx_usage_dapp_address"`
	Address   string          `json:"address" gorm:"column:address;not null;size:42;uniqueIndex:idx_usage_dapp_address"`
	Used      decimal.Decimal `json:"used" gorm:"column:used;type:decimal(78,0);not null;default:0"`
	CreatedAt time.Time       `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
}

func (ContractUsage) TableName() string {
	return "contract_usages"
}

// TransactionLog is the append-only record of a settled relay.
type TransactionLog struct {
	ID          string          `json:"id" gorm:"column:id;primaryKey;size:64"`
	DAppID      string          `json:"dappId" gorm:"column:dapp_id;index;not null;size:64"`
	To          string          `json:"to" gorm:"column:to_address;index;size:42"`
	From        string          `json:"from" gorm:"column:from_address;index;size:42"`
	Fee         decimal.Decimal `json:"fee" gorm:"column:fee;type:decimal(78,0);not null"`
	GasUsed     decimal.Decimal `json:"gasUsed" gorm:"column:gas_used;type:decimal(78,0);not null"`
	GasPrice    decimal.Decimal `json:"gasPrice" gorm:"column:gas_price;type:decimal(78,0);not null"`
	TxHash      string          `json:"txHash" gorm:"column:tx_hash;uniqueIndex;size:66"`
	BlockNumber uint64          `json:"blockNumber" gorm:"column:block_number"`
	Reverted    bool            `json:"reverted" gorm:"column:reverted;default:false"`
	CreatedAt   time.Time       `json:"createdAt" gorm:"column:created_at;index"`
}

func (TransactionLog) TableName() string {
	return "transaction_logs"
}

// Settlement is the input of one atomic billing update.
type Settlement struct {
	DAppID string
	// Fee is gasUsed * gasPrice.
	Fee decimal.Decimal
	Log TransactionLog
}

// SettlementResult is the DApp state right after the settlement committed.
type SettlementResult struct {
	DAppID    string
	DAppName  string
	Balance   decimal.Decimal
	TotalUsed decimal.Decimal
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EmailAlert is a one-shot low balance threshold for a DApp.
type EmailAlert struct {
	ID     string `json:"id" gorm:"column:id;primaryKey;size:64"`
	DAppID string `json:"dappId" gorm:"column:dapp_id;index;not null;size:64"`
	Email  string `json:"email" gorm:"column:email;not null"`
	// BalanceThreshold fires the alert once the balance drops strictly below it.
	BalanceThreshold decimal.Decimal `json:"balanceThreshold" gorm:"column:balance_threshold;type:decimal(78,0);not null"`
	// IsActive is cleared once the alert has been delivered; re-arming is an administrative action.
	IsActive bool `json:"isActive" gorm:"column:is_active;default:true;index"`
	// ClaimedUntil is the dispatch lease. A sender that dies mid-dispatch
	// leaves the alert active, and it can be claimed again once this passes.
	ClaimedUntil *time.Time `json:"-" gorm:"column:claimed_until"`
	CreatedAt    time.Time  `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
}

func (EmailAlert) TableName() string {
	return "email_alerts"
}

// EmailAlertLog records a dispatched alert.
type EmailAlertLog struct {
	ID        string          `json:"id" gorm:"column:id;primaryKey;size:64"`
	AlertID   string          `json:"alertId" gorm:"column:alert_id;index;size:64"`
	DAppID    string          `json:"dappId" gorm:"column:dapp_id;index;not null;size:64"`
	DAppName  string          `json:"dappName" gorm:"column:dapp_name"`
	Email     string          `json:"email" gorm:"column:email;not null"`
	Balance   decimal.Decimal `json:"balance" gorm:"column:balance;type:decimal(78,0);not null"`
	Threshold decimal.Decimal `json:"threshold" gorm:"column:threshold;type:decimal(78,0);not null"`
	SentAt    time.Time       `json:"sentAt" gorm:"column:sent_at"`
	// IsRead is toggled by the administrative UI only.
	IsRead bool `json:"isRead" gorm:"column:is_read;default:false"`
}

func (EmailAlertLog) TableName() string {
	return "email_alert_logs"
}

package models

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// AlertSender delivers low balance alerts. A nil error means the alert was delivered.
type AlertSender interface {
	Send(ctx context.Context, alert *AlertNotification) error
}

type AlertNotification struct {
	Email     string          `json:"email"`
	DAppName  string          `json:"dappName"`
	Balance   decimal.Decimal `json:"balance"`
	Threshold decimal.Decimal `json:"threshold"`
}

// Subject is the email subject line.
func (a *AlertNotification) Subject() string {
	return fmt.Sprintf("[Fee Delegation] %s balance below threshold", a.DAppName)
}

func (a *AlertNotification) String() string {
	return fmt.Sprintf(
		"The balance of %s has dropped below your alert threshold.\n\nCurrent balance: %s KAIA\nThreshold: %s KAIA\n\nPlease top up to keep sponsoring transactions.",
		a.DAppName, FormatKAIA(a.Balance), FormatKAIA(a.Threshold),
	)
}

// FormatKAIA renders a peb amount as KAIA with up to 18 decimals.
func FormatKAIA(peb decimal.Decimal) string {
	return peb.Shift(-18).String()
}

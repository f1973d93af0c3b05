package models

import (
	"context"
	"time"
)

// PolicyStore is the persistent store holding DApp policy and billing state.
// Lookups return (nil, nil) when nothing matches.
type PolicyStore interface {
	// FindDAppByAPIKey resolves an active API key to its DApp, with whitelist entries loaded.
	FindDAppByAPIKey(ctx context.Context, key string) (*DApp, error)
	// FindContractWhitelist finds an active contract entry for address among
	// DApps that have no active API key.
	FindContractWhitelist(ctx context.Context, address string) (*Contract, error)
	// FindSenderWhitelist finds an active sender entry for address among
	// DApps that have no active API key.
	FindSenderWhitelist(ctx context.Context, address string) (*Sender, error)
	// GetDApp loads a DApp with its whitelist entries.
	GetDApp(ctx context.Context, id string) (*DApp, error)

	// Settle debits the fee, upserts contract usage and appends the
	// transaction log in one transaction, re-reading the balance under lock.
	Settle(ctx context.Context, s *Settlement) (*SettlementResult, error)
	GetContractUsages(ctx context.Context, dappID string) ([]*ContractUsage, error)

	ListActiveAlerts(ctx context.Context, dappID string) ([]*EmailAlert, error)
	// ClaimAlert leases an active alert for dispatch until leaseUntil and
	// reports whether this call won it. Leases that ended by now are reclaimable.
	ClaimAlert(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	// ReleaseAlert drops the lease after a failed dispatch, leaving the alert active.
	ReleaseAlert(ctx context.Context, id string) error
	// CompleteAlert deactivates entry.AlertID and appends entry in one transaction.
	CompleteAlert(ctx context.Context, entry *EmailAlertLog) error
}

package relayer

import (
	"context"

	"github.com/gasless-labs/feepayer/internal/models"
)

// Resolver decides which DApp a transaction is billed to. It never writes.
type Resolver struct {
	store models.PolicyStore
}

func NewResolver(store models.PolicyStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve authorizes tx either by API key or, without one, by the whitelist of
// DApps that have no active key.
func (r *Resolver) Resolve(ctx context.Context, apiKey string, tx *models.ParsedTx) (*models.DApp, error) {
	if apiKey != "" {
		return r.resolveByAPIKey(ctx, apiKey, tx)
	}
	return r.resolveByWhitelist(ctx, tx)
}

func (r *Resolver) resolveByAPIKey(ctx context.Context, apiKey string, tx *models.ParsedTx) (*models.DApp, error) {
	dapp, err := r.store.FindDAppByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, newError(KindInternal, "failed to resolve credential", err)
	}
	if dapp == nil {
		return nil, newError(KindInvalidCredential, "invalid API key", nil)
	}
	// A DApp without whitelist entries is authorized by its key alone.
	if dapp.HasWhitelist() && !dapp.MatchesWhitelist(tx.To, tx.From) {
		return nil, newError(KindNotWhitelisted, "transaction is not whitelisted for this API key", nil)
	}
	return dapp, nil
}

func (r *Resolver) resolveByWhitelist(ctx context.Context, tx *models.ParsedTx) (*models.DApp, error) {
	var dappID string

	if tx.To != "" {
		contract, err := r.store.FindContractWhitelist(ctx, tx.To)
		if err != nil {
			return nil, newError(KindInternal, "failed to look up contract whitelist", err)
		}
		if contract != nil {
			dappID = contract.DAppID
		}
	}
	if dappID == "" {
		sender, err := r.store.FindSenderWhitelist(ctx, tx.From)
		if err != nil {
			return nil, newError(KindInternal, "failed to look up sender whitelist", err)
		}
		if sender != nil {
			dappID = sender.DAppID
		}
	}
	if dappID == "" {
		return nil, newError(KindNotWhitelisted, "neither contract nor sender is whitelisted", nil)
	}

	dapp, err := r.store.GetDApp(ctx, dappID)
	if err != nil {
		return nil, newError(KindInternal, "failed to load dapp", err)
	}
	if dapp == nil {
		return nil, newError(KindDAppNotConfigured, "whitelisted address has no dapp configured", nil)
	}
	return dapp, nil
}

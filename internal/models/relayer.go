package models

import (
	"context"
	"math/big"
)

// RelayRequest is one inbound fee delegation request.
type RelayRequest struct {
	// APIKey is the optional bearer credential.
	APIKey string
	// RawTx is the hex encoded user-signed transaction.
	RawTx string
}

// SwapRequest is one inbound gasless swap request.
type SwapRequest struct {
	User            string `json:"user"`
	TokenIn         string `json:"tokenIn"`
	TokenOut        string `json:"tokenOut"`
	AmountIn        string `json:"amountIn"`
	AmountOutMin    string `json:"amountOutMin"`
	Deadline        string `json:"deadline"`
	PermitSignature string `json:"-"`
}

// DAppUsage is the read model exposed to API-key holders.
type DAppUsage struct {
	DApp      *DApp            `json:"dapp"`
	Contracts []*ContractUsage `json:"contracts"`
}

// RelayerI is the relay engine used by the HTTP layer.
type RelayerI interface {
	// Relay runs authorization, policy, submission, confirmation and settlement.
	Relay(ctx context.Context, req *RelayRequest) (*Receipt, error)
	// Swap runs the gasless swap pipeline.
	Swap(ctx context.Context, req *SwapRequest) (*Receipt, error)
	// Usage returns billing state for the DApp owning the API key.
	Usage(ctx context.Context, apiKey, dappID string) (*DAppUsage, error)
	// FeePayerBalance returns the fee payer's native balance.
	FeePayerBalance(ctx context.Context) (*big.Int, error)
	FeePayerAddress() string
	IsProduction() bool
	EndpointCount() int
}

// APIServer is the inbound HTTP surface.
type APIServer interface {
	Start() error
	Shutdown() error
}

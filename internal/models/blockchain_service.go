package models

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NetworkClient is one network endpoint. A request pins a single client for
// its whole lifetime.
type NetworkClient interface {
	// Endpoint identifies the endpoint in logs. It must never reach a response.
	Endpoint() string
	SubmitRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	// GetReceipt returns (nil, nil) while the transaction is pending.
	GetReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error)
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
	GetFeeData(ctx context.Context) (*FeeData, error)
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)
}

// NetworkPool hands out endpoints.
type NetworkPool interface {
	Select() NetworkClient
	Size() int
}

// FeeData is the network's current fee information.
type FeeData struct {
	GasPrice *big.Int `json:"gasPrice"`
}

// Receipt is the subset of a transaction receipt the relay needs.
// GasUsed and EffectiveGasPrice are nil when the node omitted them.
type Receipt struct {
	TxHash            common.Hash     `json:"transactionHash"`
	BlockNumber       uint64          `json:"blockNumber"`
	Status            uint64          `json:"status"`
	GasUsed           *big.Int        `json:"gasUsed"`
	EffectiveGasPrice *big.Int        `json:"effectiveGasPrice"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to,omitempty"`
}

// Reverted reports whether the transaction executed but reverted.
func (r *Receipt) Reverted() bool {
	return r.Status == types.ReceiptStatusFailed
}

// ParsedTx is a decoded user-signed fee-delegated transaction.
type ParsedTx struct {
	Type  byte
	Nonce uint64
	Gas   uint64
	// SenderTxHash does not depend on the fee payer.
	SenderTxHash common.Hash
	// Raw is the original encoding as received.
	Raw []byte
	// From and To are lower-case 0x-prefixed. To is empty for contract creation.
	From     string
	To       string
	GasPrice *big.Int
	Data     []byte
}

// FeePayerSigner countersigns user transactions as fee payer.
type FeePayerSigner interface {
	Address() common.Address
	// Countersign returns the raw fee-delegated transaction ready for submission.
	// The user's signature is left untouched.
	Countersign(tx *ParsedTx) ([]byte, error)
}

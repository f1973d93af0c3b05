package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

const (
	// DialTimeout bounds the initial connection to an endpoint.
	DialTimeout = 10 * time.Second

	// receiptMethod is used directly so that missing fields stay observable.
	receiptMethod = "eth_getTransactionReceipt"
)

// KaiaClient is a single JSON-RPC endpoint.
type KaiaClient struct {
	logger       *logger.Logger
	endpoint     string
	submitMethod string

	rpc    *rpc.Client
	client *ethclient.Client
}

var _ models.NetworkClient = (*KaiaClient)(nil)

// DialKaia connects to the endpoint at rawURL. Countersigned transactions are
// submitted with submitMethod.
func DialKaia(ctx context.Context, rawURL, submitMethod string, logger *logger.Logger) (*KaiaClient, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the RPC server %s: %w", redactURL(rawURL), err)
	}
	return &KaiaClient{
		logger:       logger,
		endpoint:     rawURL,
		submitMethod: submitMethod,
		rpc:          rpcClient,
		client:       ethclient.NewClient(rpcClient),
	}, nil
}

// Endpoint returns the host of the endpoint, for logs only.
func (k *KaiaClient) Endpoint() string {
	return redactURL(k.endpoint)
}

func (k *KaiaClient) Close() {
	if k.client != nil {
		k.client.Close()
	}
}

func (k *KaiaClient) SubmitRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := k.rpc.CallContext(ctx, &hash, k.submitMethod, hexutil.Encode(raw)); err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit raw transaction: %w", err)
	}
	if hash == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("node accepted transaction without returning a hash")
	}
	return hash, nil
}

// rpcReceipt keeps every optional field as a pointer so absence can be told
// apart from zero.
type rpcReceipt struct {
	TransactionHash   common.Hash     `json:"transactionHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	Status            *hexutil.Uint64 `json:"status"`
	GasUsed           *hexutil.Big    `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	GasPrice          *hexutil.Big    `json:"gasPrice"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to"`
}

func (r *rpcReceipt) toModel() *models.Receipt {
	receipt := &models.Receipt{
		TxHash: r.TransactionHash,
		From:   r.From,
		To:     r.To,
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.ToInt().Uint64()
	}
	if r.Status != nil {
		receipt.Status = uint64(*r.Status)
	}
	if r.GasUsed != nil {
		receipt.GasUsed = r.GasUsed.ToInt()
	}
	// Pre-London style receipts only carry gasPrice.
	switch {
	case r.EffectiveGasPrice != nil:
		receipt.EffectiveGasPrice = r.EffectiveGasPrice.ToInt()
	case r.GasPrice != nil:
		receipt.EffectiveGasPrice = r.GasPrice.ToInt()
	}
	return receipt
}

func (k *KaiaClient) GetReceipt(ctx context.Context, txHash common.Hash) (*models.Receipt, error) {
	var raw *rpcReceipt
	if err := k.rpc.CallContext(ctx, &raw, receiptMethod, txHash); err != nil {
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.toModel(), nil
}

func (k *KaiaClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := k.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (k *KaiaClient) GetFeeData(ctx context.Context) (*models.FeeData, error) {
	gasPrice, err := k.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return &models.FeeData{GasPrice: gasPrice}, nil
}

func (k *KaiaClient) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := k.client.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	return nonce, nil
}

// redactURL drops credentials, path and query (API keys often live there).
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "endpoint"
	}
	return u.Scheme + "://" + u.Host
}

package relayer

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gasless-labs/feepayer/internal/blockchain"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
	"github.com/gasless-labs/feepayer/pkg/validation"
)

// permitSignatureLength is r || s || v.
const permitSignatureLength = 65

// Swap executes a permit-based swap paid for by the operator account.
// Nothing is billed to a DApp.
func (r *Relayer) Swap(ctx context.Context, req *models.SwapRequest) (receipt *models.Receipt, err error) {
	start := time.Now()
	log := logger.FromContext(ctx, r.logger)
	defer func() { r.observe(pipelineSwap, start, err) }()

	if r.swaps == nil {
		return nil, newError(KindInternal, "gasless swap is not enabled", nil)
	}

	call, err := r.parseSwap(req)
	if err != nil {
		return nil, err
	}
	log = log.With("user", strings.ToLower(call.User.Hex()))

	client := r.pool.Select()
	log = log.With("endpoint", client.Endpoint())

	if r.config.IsProduction() {
		balance, err := client.GetBalance(ctx, call.User)
		if err != nil {
			return nil, newError(KindInternal, Sanitize(err.Error(), client.Endpoint()), err)
		}
		if balance.Sign() != 0 {
			return nil, newError(KindNonZeroBalance, "gasless swap is only available to accounts with zero balance", nil)
		}
	}

	fee, err := client.GetFeeData(ctx)
	if err != nil {
		return nil, newError(KindInternal, Sanitize(err.Error(), client.Endpoint()), err)
	}
	if err := r.validator.CheckGasPrice(fee.GasPrice); err != nil {
		return nil, err
	}

	nonce, err := client.PendingNonceAt(ctx, r.swaps.Address())
	if err != nil {
		return nil, newError(KindInternal, Sanitize(err.Error(), client.Endpoint()), err)
	}
	raw, _, err := r.swaps.Build(call, nonce, fee.GasPrice)
	if err != nil {
		return nil, newError(KindInternal, "failed to build swap transaction", err)
	}

	txHash, err := r.submitter.Submit(ctx, client, raw, log)
	if err != nil {
		return nil, err
	}
	receipt, err = r.poller.Wait(ctx, client, txHash, log)
	if err != nil {
		return nil, err
	}
	if receipt.Reverted() {
		return receipt, &RelayError{Kind: KindReverted, Message: "swap reverted", Data: receipt}
	}
	log.Infow("Gasless swap executed", "txHash", txHash.Hex())
	return receipt, nil
}

func (r *Relayer) parseSwap(req *models.SwapRequest) (*blockchain.SwapCall, error) {
	addrs := make([]common.Address, 3)
	for i, raw := range []string{req.User, req.TokenIn, req.TokenOut} {
		if err := validation.ValidateAddress(raw); err != nil {
			return nil, newError(KindInvalidRequest, "invalid swap address", err)
		}
		addrs[i] = common.HexToAddress(raw)
	}

	if !strings.EqualFold(req.TokenIn, r.config.GaslessSwapTokenIn) ||
		!strings.EqualFold(req.TokenOut, r.config.GaslessSwapTokenOut) {
		return nil, newError(KindUnsupportedToken, "token pair is not supported", nil)
	}

	amountIn, ok := parsePositive(req.AmountIn)
	if !ok {
		return nil, newError(KindInvalidRequest, "amountIn must be a positive integer", nil)
	}
	amountOutMin, ok := parsePositive(req.AmountOutMin)
	if !ok {
		return nil, newError(KindInvalidRequest, "amountOutMin must be a positive integer", nil)
	}
	deadline, ok := parsePositive(req.Deadline)
	if !ok {
		return nil, newError(KindInvalidRequest, "deadline must be a unix timestamp", nil)
	}
	if deadline.Cmp(big.NewInt(r.now().Unix())) <= 0 {
		return nil, newError(KindPermitExpired, "permit deadline has passed", nil)
	}

	signature, err := validation.DecodeHex(req.PermitSignature)
	if err != nil || len(signature) != permitSignatureLength {
		return nil, newError(KindInvalidRequest, "invalid permit signature", err)
	}

	return &blockchain.SwapCall{
		User:         addrs[0],
		TokenIn:      addrs[1],
		TokenOut:     addrs[2],
		AmountIn:     amountIn,
		AmountOutMin: amountOutMin,
		Deadline:     deadline,
		Signature:    signature,
	}, nil
}

func parsePositive(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

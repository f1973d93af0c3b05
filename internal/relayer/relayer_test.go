package relayer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gasless-labs/feepayer/internal/blockchain"
	"github.com/gasless-labs/feepayer/internal/config"
	"github.com/gasless-labs/feepayer/internal/models"
)

func TestRelay_HappyPath(t *testing.T) {
	h := newHarness(t, nil)
	dapp := h.addDApp(nil)
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	receipt, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(42), receipt.BlockNumber)

	fee := decimal.NewFromInt(525_000_000_000_000)
	got, err := h.store.GetDApp(context.Background(), dapp.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(tenKAIA.Sub(fee)), got.Balance.String())
	assert.True(t, got.TotalUsed.Equal(fee))

	logs := h.store.TransactionLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, routerAddr, logs[0].To)
	assert.Equal(t, tx.from(), logs[0].From)
	assert.True(t, logs[0].Fee.Equal(fee))
	assert.True(t, logs[0].GasUsed.Equal(decimal.NewFromInt(21000)))
	assert.Equal(t, receipt.TxHash.Hex(), logs[0].TxHash)
	assert.False(t, logs[0].Reverted)

	usages, err := h.store.GetContractUsages(context.Background(), dapp.ID)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.True(t, usages[0].Used.Equal(fee))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RelayOutcomes.WithLabelValues("relay", "success")))
}

func TestRelay_SubmitsFeePayerSignedTransaction(t *testing.T) {
	h := newHarness(t, nil)
	h.addDApp(nil)
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	require.NoError(t, err)
	require.Len(t, h.client.submitted, 1)

	submitted, err := blockchain.DecodeFeeDelegatedTx(h.client.submitted[0])
	require.NoError(t, err)
	assert.Equal(t, h.relayer.FeePayerAddress(), submitted.FeePayer.Hex())

	feePayer, err := submitted.FeePayerSender(testChainID)
	require.NoError(t, err)
	assert.Equal(t, h.relayer.FeePayerAddress(), feePayer.Hex())

	senderTxHash, err := submitted.SenderTxHash()
	require.NoError(t, err)
	assert.Equal(t, parse(t, tx).SenderTxHash, senderTxHash)
}

func TestRelay_RevertedStillSettles(t *testing.T) {
	h := newHarness(t, nil)
	dapp := h.addDApp(nil)
	h.client.receipt = successReceipt(types.ReceiptStatusFailed)
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	receipt, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	requireKind(t, err, KindReverted)
	require.NotNil(t, receipt)

	var re *RelayError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, receipt, re.Data)

	got, err := h.store.GetDApp(context.Background(), dapp.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(tenKAIA.Sub(decimal.NewFromInt(525_000_000_000_000))))

	logs := h.store.TransactionLogs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Reverted)
}

func TestRelay_SubmissionExhaustedAfterFiveAttempts(t *testing.T) {
	h := newHarness(t, nil)
	dapp := h.addDApp(nil)
	h.client.submitFailures = -1
	h.client.submitErr = errors.New(`Post "https://secret-node.example.com/v1/key-123": connection refused`)
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	requireKind(t, err, KindSubmissionExhausted)
	assert.Equal(t, 5, h.client.submitCalls)
	assert.Equal(t, 0, h.client.receiptCalls)

	var re *RelayError
	require.True(t, errors.As(err, &re))
	assert.NotContains(t, re.Message, "secret-node")
	assert.NotContains(t, re.Message, "key-123")
	assert.Contains(t, re.Message, "connection refused")

	got, err := h.store.GetDApp(context.Background(), dapp.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(tenKAIA))
	assert.Empty(t, h.store.TransactionLogs())
}

func TestRelay_SubmissionRecoversWithinBound(t *testing.T) {
	h := newHarness(t, nil)
	h.addDApp(nil)
	h.client.submitFailures = 4
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	require.NoError(t, err)
	assert.Equal(t, 5, h.client.submitCalls)
}

func TestRelay_ConfirmationTimeoutAfterFifteenPolls(t *testing.T) {
	h := newHarness(t, nil)
	h.addDApp(nil)
	h.client.pendingPolls = -1
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	requireKind(t, err, KindConfirmationTimeout)
	assert.Equal(t, 15, h.client.receiptCalls)
	assert.Empty(t, h.store.TransactionLogs())
}

func TestRelay_ReceiptAfterPendingPolls(t *testing.T) {
	h := newHarness(t, nil)
	h.addDApp(nil)
	h.client.pendingPolls = 3
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	require.NoError(t, err)
	assert.Equal(t, 4, h.client.receiptCalls)
}

func TestRelay_GasPriceTooHighBeforeAnythingElse(t *testing.T) {
	h := newHarness(t, nil)
	// No DApp at all: the ceiling must still win over NotWhitelisted.
	tx := signUserTx(t, routerAddr, new(big.Int).Mul(big.NewInt(51), gwei), nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	requireKind(t, err, KindGasPriceTooHigh)
	assert.Equal(t, 0, h.client.submitCalls)
}

func TestRelay_MalformedTransaction(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: "0x1234"})
	requireKind(t, err, KindInvalidRequest)
}

func TestRelay_PolicyRejectionMakesNoNetworkCalls(t *testing.T) {
	h := newHarness(t, nil)
	h.addDApp(func(d *models.DApp) { d.Active = false })
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	requireKind(t, err, KindDAppInactive)
	assert.Equal(t, 0, h.client.submitCalls)
}

func TestRelay_TestnetSkipsPolicy(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Network = config.NetworkTestnet })
	h.addDApp(func(d *models.DApp) {
		d.Active = false
		d.Balance = decimal.Zero
	})
	tx := signUserTx(t, routerAddr, new(big.Int).Mul(big.NewInt(500), gwei), nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	require.NoError(t, err)
	assert.False(t, h.relayer.IsProduction())
}

func TestRelay_TestnetStillRequiresAuthorization(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Network = config.NetworkTestnet })
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	requireKind(t, err, KindNotWhitelisted)
}

func TestRelay_SettlementFaultOnMissingGasUsed(t *testing.T) {
	h := newHarness(t, nil)
	dapp := h.addDApp(nil)
	h.client.receipt.GasUsed = nil
	tx := signUserTx(t, routerAddr, happyGasPrice, nil)

	receipt, err := h.relayer.Relay(context.Background(), &models.RelayRequest{RawTx: tx.raw})
	requireKind(t, err, KindSettlementFault)
	assert.NotNil(t, receipt)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SettlementFaults))

	got, err := h.store.GetDApp(context.Background(), dapp.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(tenKAIA))
}

func TestRelay_APIKey(t *testing.T) {
	h := newHarness(t, nil)
	dapp := h.addDApp(func(d *models.DApp) { d.Contracts = nil })
	h.store.AddAPIKey(&models.APIKey{DAppID: dapp.ID, Key: "secret", Active: true})
	tx := signUserTx(t, otherAddr, happyGasPrice, nil)

	_, err := h.relayer.Relay(context.Background(), &models.RelayRequest{APIKey: "secret", RawTx: tx.raw})
	require.NoError(t, err)

	_, err = h.relayer.Relay(context.Background(), &models.RelayRequest{APIKey: "wrong", RawTx: tx.raw})
	requireKind(t, err, KindInvalidCredential)
}

func TestUsage(t *testing.T) {
	h := newHarness(t, nil)
	dapp := h.addDApp(nil)
	other := h.addDApp(func(d *models.DApp) { d.Contracts = nil })
	h.store.AddAPIKey(&models.APIKey{DAppID: dapp.ID, Key: "secret", Active: true})

	_, err := h.store.Settle(context.Background(), &models.Settlement{
		DAppID: dapp.ID, Fee: decimal.NewFromInt(5), Log: models.TransactionLog{To: routerAddr},
	})
	require.NoError(t, err)

	usage, err := h.relayer.Usage(context.Background(), "secret", dapp.ID)
	require.NoError(t, err)
	assert.Equal(t, dapp.ID, usage.DApp.ID)
	require.Len(t, usage.Contracts, 1)

	_, err = h.relayer.Usage(context.Background(), "secret", other.ID)
	requireKind(t, err, KindInvalidCredential)

	_, err = h.relayer.Usage(context.Background(), "", dapp.ID)
	requireKind(t, err, KindInvalidCredential)
}

func TestFeePayerBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.client.balance = big.NewInt(123)

	balance, err := h.relayer.FeePayerBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(123), balance.Int64())
	assert.Equal(t, 1, h.relayer.EndpointCount())

	h.client.netErr = errors.New("dial https://node.example.com failed")
	_, err = h.relayer.FeePayerBalance(context.Background())
	requireKind(t, err, KindInternal)
	var re *RelayError
	require.True(t, errors.As(err, &re))
	assert.NotContains(t, re.Message, "node.example.com")
}

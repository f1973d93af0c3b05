package relayer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gasless-labs/feepayer/internal/blockchain"
	"github.com/gasless-labs/feepayer/internal/config"
	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/internal/repository"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

const (
	testFeePayerKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	routerAddr      = "0x1111111111111111111111111111111111111111"
	otherAddr       = "0x3333333333333333333333333333333333333333"
	swapTokenIn     = "0x000000000000000000000000000000000000000a"
	swapTokenOut    = "0x000000000000000000000000000000000000000b"
	gaslessRouter   = "0x00000000000000000000000000000000000000aa"
)

var (
	gwei          = big.NewInt(1_000_000_000)
	testChainID   = big.NewInt(1001)
	tenKAIA       = decimal.RequireFromString("10000000000000000000")
	happyGasPrice = new(big.Int).Mul(big.NewInt(25), gwei)
	testNow       = time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC)
)

func testConfig() *config.Config {
	return &config.Config{
		Network:                config.NetworkMainnet,
		ChainID:                testChainID,
		GasPriceCeiling:        new(big.Int).Mul(big.NewInt(50), gwei),
		MinDAppBalance:         decimal.New(1, 17),
		TerminationOffsetHours: 9,
		SubmitMaxAttempts:      5,
		ReceiptMaxAttempts:     15,
		ReceiptPollInterval:    0,
		GaslessSwapRouter:      gaslessRouter,
		GaslessSwapTokenIn:     swapTokenIn,
		GaslessSwapTokenOut:    swapTokenOut,
		GaslessSwapGasLimit:    500_000,
	}
}

// fakeClient is a scripted network endpoint.
type fakeClient struct {
	mu sync.Mutex

	// submitFailures is the number of failing submissions before success; -1 fails forever.
	submitFailures int
	submitErr      error
	submitCalls    int
	submitted      [][]byte

	// pendingPolls is the number of polls answered with "pending"; -1 never confirms.
	pendingPolls int
	receiptCalls int
	receipt      *models.Receipt

	balance  *big.Int
	gasPrice *big.Int
	nonce    uint64
	netErr   error
}

var _ models.NetworkClient = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		balance:  big.NewInt(0),
		gasPrice: happyGasPrice,
	}
}

func (f *fakeClient) Endpoint() string { return "https://node.example.com" }

func (f *fakeClient) SubmitRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitFailures < 0 || f.submitCalls <= f.submitFailures {
		if f.submitErr != nil {
			return common.Hash{}, f.submitErr
		}
		return common.Hash{}, errors.New("txpool is full")
	}
	f.submitted = append(f.submitted, raw)
	return crypto.Keccak256Hash(raw), nil
}

func (f *fakeClient) GetReceipt(_ context.Context, txHash common.Hash) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.pendingPolls < 0 || f.receiptCalls <= f.pendingPolls {
		return nil, nil
	}
	r := *f.receipt
	r.TxHash = txHash
	return &r, nil
}

func (f *fakeClient) GetBalance(context.Context, common.Address) (*big.Int, error) {
	if f.netErr != nil {
		return nil, f.netErr
	}
	return f.balance, nil
}

func (f *fakeClient) GetFeeData(context.Context) (*models.FeeData, error) {
	if f.netErr != nil {
		return nil, f.netErr
	}
	return &models.FeeData{GasPrice: f.gasPrice}, nil
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

type fakePool struct {
	client models.NetworkClient
}

func (p *fakePool) Select() models.NetworkClient { return p.client }
func (p *fakePool) Size() int                    { return 1 }

// fakeSender records alerts; fail makes every send fail.
type fakeSender struct {
	mu   sync.Mutex
	fail bool
	sent []*models.AlertNotification
}

func (s *fakeSender) Send(_ context.Context, alert *models.AlertNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, alert)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func successReceipt(status uint64) *models.Receipt {
	return &models.Receipt{
		BlockNumber:       42,
		Status:            status,
		GasUsed:           big.NewInt(21000),
		EffectiveGasPrice: new(big.Int).Set(happyGasPrice),
	}
}

type harness struct {
	store   *repository.MemoryStore
	client  *fakeClient
	sender  *fakeSender
	metrics *metrics.Metrics
	config  *config.Config
	relayer models.RelayerI
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	feePayer, err := blockchain.NewFeePayer(testFeePayerKey, cfg.ChainID)
	require.NoError(t, err)
	builder, err := blockchain.NewGaslessSwapBuilder(testFeePayerKey, common.HexToAddress(cfg.GaslessSwapRouter), cfg.ChainID, cfg.GaslessSwapGasLimit)
	require.NoError(t, err)

	h := &harness{
		store:   repository.NewMemoryStore(),
		client:  newFakeClient(),
		sender:  &fakeSender{},
		metrics: metrics.New(),
		config:  cfg,
	}
	h.client.receipt = successReceipt(types.ReceiptStatusSuccessful)
	h.relayer = NewRelayer(h.store, &fakePool{client: h.client}, feePayer, h.sender, h.metrics, logger.NewNop(), cfg,
		WithClock(func() time.Time { return testNow }),
		WithGaslessSwaps(builder),
	)
	return h
}

// addDApp registers an active, funded DApp whitelisting routerAddr.
func (h *harness) addDApp(mutate func(*models.DApp)) *models.DApp {
	dapp := &models.DApp{
		Name:      "demo",
		Active:    true,
		Balance:   tenKAIA,
		Contracts: []models.Contract{{Address: routerAddr, Active: true}},
	}
	if mutate != nil {
		mutate(dapp)
	}
	h.store.AddDApp(dapp)
	return dapp
}

type userTx struct {
	key *ecdsa.PrivateKey
	to  *common.Address
	gas *big.Int
	raw string
}

func signUserTx(t *testing.T, to string, gasPrice *big.Int, data []byte) *userTx {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	var dest *common.Address
	txType := blockchain.TxTypeFeeDelegatedSmartContractDeploy
	if to != "" {
		a := common.HexToAddress(to)
		dest = &a
		txType = blockchain.TxTypeFeeDelegatedSmartContractExecution
	}
	tx := &blockchain.FeeDelegatedTx{
		Type:     txType,
		Nonce:    1,
		GasPrice: gasPrice,
		Gas:      100_000,
		To:       dest,
		Value:    big.NewInt(0),
		From:     crypto.PubkeyToAddress(key.PublicKey),
		Input:    data,
	}
	require.NoError(t, tx.SignAsSender(key, testChainID))
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return &userTx{key: key, to: dest, gas: gasPrice, raw: hexutil.Encode(raw)}
}

func (u *userTx) from() string {
	return "0x" + common.Bytes2Hex(crypto.PubkeyToAddress(u.key.PublicKey).Bytes())
}

func parse(t *testing.T, u *userTx) *models.ParsedTx {
	t.Helper()
	parsed, err := blockchain.ParseRawTransaction(u.raw, testChainID)
	require.NoError(t, err)
	return parsed
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), err.Error())
}

func mustABI(t *testing.T, definition string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(definition))
	require.NoError(t, err)
	return parsed
}

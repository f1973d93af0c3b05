// Package relayer implements the fee delegation pipeline: authorization,
// policy validation, countersigned submission, receipt polling and
// settlement, plus the gasless swap variant.
package relayer

import (
	"context"
	"math/big"
	"time"

	"github.com/gasless-labs/feepayer/internal/blockchain"
	"github.com/gasless-labs/feepayer/internal/config"
	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

const (
	pipelineRelay = "relay"
	pipelineSwap  = "swap"
)

// Relayer serves every relay and swap request. It keeps no per-request state.
type Relayer struct {
	logger *logger.Logger
	config *config.Config

	store   models.PolicyStore
	pool    models.NetworkPool
	signer  models.FeePayerSigner
	swaps   *blockchain.GaslessSwapBuilder
	metrics *metrics.Metrics
	now     func() time.Time

	resolver  *Resolver
	validator *Validator
	submitter *Submitter
	poller    *Poller
	settler   *Settler
}

type Option func(*Relayer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Relayer) { r.now = now }
}

// WithGaslessSwaps enables the swap pipeline.
func WithGaslessSwaps(builder *blockchain.GaslessSwapBuilder) Option {
	return func(r *Relayer) { r.swaps = builder }
}

// NewRelayer wires the pipeline stages.
func NewRelayer(
	store models.PolicyStore,
	pool models.NetworkPool,
	signer models.FeePayerSigner,
	sender models.AlertSender,
	m *metrics.Metrics,
	logger *logger.Logger,
	config *config.Config,
	opts ...Option,
) models.RelayerI {
	r := &Relayer{
		logger:  logger,
		config:  config,
		store:   store,
		pool:    pool,
		signer:  signer,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.resolver = NewResolver(store)
	r.validator = NewValidator(config.GasPriceCeiling, config.MinDAppBalance, config.TerminationOffsetHours, r.now)
	r.submitter = NewSubmitter(config.SubmitMaxAttempts, m)
	r.poller = NewPoller(config.ReceiptMaxAttempts, config.ReceiptPollInterval, m)
	r.settler = NewSettler(store, NewAlertDispatcher(store, sender, m, r.now), m)
	return r
}

func (r *Relayer) observe(pipeline string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	r.metrics.RelayOutcomes.WithLabelValues(pipeline, outcome).Inc()
	r.metrics.RelayDuration.WithLabelValues(pipeline).Observe(time.Since(start).Seconds())
}

// Relay runs one fee delegated transaction end to end. A reverted
// transaction returns its receipt together with a KindReverted error.
func (r *Relayer) Relay(ctx context.Context, req *models.RelayRequest) (receipt *models.Receipt, err error) {
	start := time.Now()
	log := logger.FromContext(ctx, r.logger)
	defer func() { r.observe(pipelineRelay, start, err) }()

	tx, err := blockchain.ParseRawTransaction(req.RawTx, r.config.ChainID)
	if err != nil {
		return nil, newError(KindInvalidRequest, "invalid signed transaction", err)
	}
	log = log.With("from", tx.From, "to", tx.To, "txType", blockchain.TxType(tx.Type).String())

	production := r.config.IsProduction()
	// Cheap rejection before any store lookup.
	if production {
		if err := r.validator.CheckGasPrice(tx.GasPrice); err != nil {
			return nil, err
		}
	}

	dapp, err := r.resolver.Resolve(ctx, req.APIKey, tx)
	if err != nil {
		return nil, err
	}
	log = log.With("dappId", dapp.ID)

	if production {
		if err := r.validator.Validate(dapp, tx); err != nil {
			log.Infow("Relay rejected by policy", "reason", KindOf(err))
			return nil, err
		}
	}

	raw, err := r.signer.Countersign(tx)
	if err != nil {
		return nil, newError(KindInternal, "failed to countersign transaction", err)
	}

	client := r.pool.Select()
	log = log.With("endpoint", client.Endpoint())

	txHash, err := r.submitter.Submit(ctx, client, raw, log)
	if err != nil {
		return nil, err
	}
	receipt, err = r.poller.Wait(ctx, client, txHash, log)
	if err != nil {
		return nil, err
	}

	if _, err := r.settler.Settle(ctx, dapp, tx, receipt, log); err != nil {
		return receipt, err
	}

	if receipt.Reverted() {
		return receipt, &RelayError{Kind: KindReverted, Message: "transaction reverted", Data: receipt}
	}
	return receipt, nil
}

// Usage returns the billing state of dappID if apiKey belongs to it.
func (r *Relayer) Usage(ctx context.Context, apiKey, dappID string) (*models.DAppUsage, error) {
	if apiKey == "" {
		return nil, newError(KindInvalidCredential, "API key required", nil)
	}
	dapp, err := r.store.FindDAppByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, newError(KindInternal, "failed to resolve credential", err)
	}
	if dapp == nil || dapp.ID != dappID {
		return nil, newError(KindInvalidCredential, "invalid API key", nil)
	}
	usages, err := r.store.GetContractUsages(ctx, dapp.ID)
	if err != nil {
		return nil, newError(KindInternal, "failed to load usage", err)
	}
	return &models.DAppUsage{DApp: dapp, Contracts: usages}, nil
}

func (r *Relayer) FeePayerBalance(ctx context.Context) (*big.Int, error) {
	client := r.pool.Select()
	balance, err := client.GetBalance(ctx, r.signer.Address())
	if err != nil {
		logger.FromContext(ctx, r.logger).Errorw("Failed to read fee payer balance", "endpoint", client.Endpoint(), "error", err)
		return nil, newError(KindInternal, Sanitize(err.Error(), client.Endpoint()), err)
	}
	return balance, nil
}

func (r *Relayer) FeePayerAddress() string {
	return r.signer.Address().Hex()
}

func (r *Relayer) IsProduction() bool {
	return r.config.IsProduction()
}

func (r *Relayer) EndpointCount() int {
	return r.pool.Size()
}

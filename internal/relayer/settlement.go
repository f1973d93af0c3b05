package relayer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

// Settler turns a confirmed receipt into billing state.
type Settler struct {
	store   models.PolicyStore
	alerts  *AlertDispatcher
	metrics *metrics.Metrics
}

func NewSettler(store models.PolicyStore, alerts *AlertDispatcher, m *metrics.Metrics) *Settler {
	return &Settler{store: store, alerts: alerts, metrics: m}
}

// Fee is gasUsed * gasPrice.
func Fee(gasUsed, gasPrice *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).Mul(gasUsed, gasPrice), 0)
}

// Settle debits dapp for receipt and then evaluates its alerts. Reverted
// receipts are settled like any other.
func (s *Settler) Settle(ctx context.Context, dapp *models.DApp, tx *models.ParsedTx, receipt *models.Receipt, log *logger.Logger) (*models.SettlementResult, error) {
	txHash := receipt.TxHash.Hex()
	if receipt.GasUsed == nil || receipt.EffectiveGasPrice == nil {
		s.metrics.SettlementFaults.Inc()
		log.Errorw("Receipt is missing gas accounting, fee NOT recorded",
			"dappId", dapp.ID, "txHash", txHash, "receipt", receipt)
		return nil, &RelayError{
			Kind:    KindSettlementFault,
			Message: "confirmed transaction could not be billed",
			Data:    map[string]string{"txHash": txHash},
			Err:     fmt.Errorf("receipt %s lacks gasUsed or effective gas price", txHash),
		}
	}

	fee := Fee(receipt.GasUsed, receipt.EffectiveGasPrice)
	result, err := s.store.Settle(ctx, &models.Settlement{
		DAppID: dapp.ID,
		Fee:    fee,
		Log: models.TransactionLog{
			To:          tx.To,
			From:        tx.From,
			GasUsed:     decimal.NewFromBigInt(receipt.GasUsed, 0),
			GasPrice:    decimal.NewFromBigInt(receipt.EffectiveGasPrice, 0),
			TxHash:      txHash,
			BlockNumber: receipt.BlockNumber,
			Reverted:    receipt.Reverted(),
		},
	})
	if err != nil {
		s.metrics.SettlementFaults.Inc()
		log.Errorw("Settlement failed, fee NOT recorded",
			"dappId", dapp.ID, "txHash", txHash, "fee", fee.String(), "error", err)
		return nil, &RelayError{
			Kind:    KindSettlementFault,
			Message: "confirmed transaction could not be billed",
			Data:    map[string]string{"txHash": txHash},
			Err:     err,
		}
	}

	feeKAIA, _ := fee.Shift(-18).Float64()
	s.metrics.SettledFees.Add(feeKAIA)
	log.Infow("Settled transaction",
		"dappId", dapp.ID, "txHash", txHash, "fee", fee.String(),
		"balance", result.Balance.String(), "reverted", receipt.Reverted())

	if s.alerts != nil {
		s.alerts.Evaluate(ctx, result, log)
	}
	return result, nil
}

package relayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
	"github.com/gasless-labs/feepayer/pkg/retry"
)

// Poller waits for a receipt with a fixed interval and a bounded number of polls.
type Poller struct {
	maxAttempts int
	interval    time.Duration
	metrics     *metrics.Metrics
}

func NewPoller(maxAttempts int, interval time.Duration, m *metrics.Metrics) *Poller {
	return &Poller{maxAttempts: maxAttempts, interval: interval, metrics: m}
}

func (p *Poller) Wait(ctx context.Context, client models.NetworkClient, txHash common.Hash, log *logger.Logger) (*models.Receipt, error) {
	receipt, err := retry.WithBoundedRetries(ctx, p.maxAttempts, p.interval, func(ctx context.Context, attempt int) (*models.Receipt, error) {
		receipt, err := client.GetReceipt(ctx, txHash)
		if err != nil {
			p.metrics.ReceiptPolls.WithLabelValues("error").Inc()
			log.Debugw("Receipt poll failed", "attempt", attempt, "txHash", txHash.Hex(), "error", err)
			return nil, err
		}
		if receipt == nil {
			p.metrics.ReceiptPolls.WithLabelValues("pending").Inc()
			return nil, retry.ErrNotReady
		}
		p.metrics.ReceiptPolls.WithLabelValues("found").Inc()
		return receipt, nil
	})
	if err == nil {
		return receipt, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return nil, &RelayError{
			Kind:    KindConfirmationTimeout,
			Message: fmt.Sprintf("no receipt after %d attempts", exhausted.Attempts),
			Data:    map[string]string{"txHash": txHash.Hex()},
			Err:     err,
		}
	}
	return nil, newError(KindInternal, "receipt polling interrupted", err)
}

package relayer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
	"github.com/gasless-labs/feepayer/pkg/retry"
)

// Submitter pushes a raw transaction to one endpoint with a bounded number
// of immediate retries.
type Submitter struct {
	maxAttempts int
	metrics     *metrics.Metrics
}

func NewSubmitter(maxAttempts int, m *metrics.Metrics) *Submitter {
	return &Submitter{maxAttempts: maxAttempts, metrics: m}
}

func (s *Submitter) Submit(ctx context.Context, client models.NetworkClient, raw []byte, log *logger.Logger) (common.Hash, error) {
	hash, err := retry.WithBoundedRetries(ctx, s.maxAttempts, 0, func(ctx context.Context, attempt int) (common.Hash, error) {
		hash, err := client.SubmitRawTransaction(ctx, raw)
		if err != nil {
			s.metrics.SubmitAttempts.WithLabelValues("error").Inc()
			log.Warnw("Transaction submission failed",
				"attempt", attempt, "maxAttempts", s.maxAttempts, "endpoint", client.Endpoint(), "error", err)
			return common.Hash{}, err
		}
		s.metrics.SubmitAttempts.WithLabelValues("accepted").Inc()
		log.Infow("Transaction accepted", "attempt", attempt, "txHash", hash.Hex())
		return hash, nil
	})
	if err == nil {
		return hash, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return common.Hash{}, newError(KindSubmissionExhausted,
			fmt.Sprintf("transaction submission failed after %d attempts: %s",
				exhausted.Attempts, Sanitize(exhausted.Last.Error(), client.Endpoint())),
			err)
	}
	return common.Hash{}, newError(KindInternal, "transaction submission interrupted", err)
}

package relayer

import (
	"context"
	"time"

	"github.com/gasless-labs/feepayer/internal/metrics"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

// AlertDispatcher fires one-shot low balance alerts after a settlement.
// Failures are logged and never returned.
type AlertDispatcher struct {
	store   models.PolicyStore
	sender  models.AlertSender
	metrics *metrics.Metrics
	now     func() time.Time
	// leaseTTL bounds how long a claimed but unconfirmed alert stays claimed.
	leaseTTL time.Duration
}

// DefaultAlertLease outlasts any single mail dispatch.
const DefaultAlertLease = 5 * time.Minute

func NewAlertDispatcher(store models.PolicyStore, sender models.AlertSender, m *metrics.Metrics, now func() time.Time) *AlertDispatcher {
	if now == nil {
		now = time.Now
	}
	return &AlertDispatcher{store: store, sender: sender, metrics: m, now: now, leaseTTL: DefaultAlertLease}
}

func (a *AlertDispatcher) Evaluate(ctx context.Context, result *models.SettlementResult, log *logger.Logger) {
	alerts, err := a.store.ListActiveAlerts(ctx, result.DAppID)
	if err != nil {
		log.Errorw("Failed to list email alerts", "dappId", result.DAppID, "error", err)
		return
	}

	for _, alert := range alerts {
		if !alert.BalanceThreshold.GreaterThan(result.Balance) {
			continue
		}
		a.fire(ctx, alert, result, log.With("alertId", alert.ID))
	}
}

// fire leases the alert so concurrent settlements cannot both dispatch it,
// and deactivates it only once the send succeeded.
func (a *AlertDispatcher) fire(ctx context.Context, alert *models.EmailAlert, result *models.SettlementResult, log *logger.Logger) {
	now := a.now()
	claimed, err := a.store.ClaimAlert(ctx, alert.ID, now, now.Add(a.leaseTTL))
	if err != nil {
		log.Errorw("Failed to claim email alert", "error", err)
		return
	}
	if !claimed {
		return
	}

	notification := &models.AlertNotification{
		Email:     alert.Email,
		DAppName:  result.DAppName,
		Balance:   result.Balance,
		Threshold: alert.BalanceThreshold,
	}
	if err := a.sender.Send(ctx, notification); err != nil {
		a.metrics.AlertsDispatched.WithLabelValues("failed").Inc()
		log.Errorw("Failed to send balance alert, releasing", "email", alert.Email, "error", err)
		if err := a.store.ReleaseAlert(ctx, alert.ID); err != nil {
			log.Errorw("Failed to release email alert", "error", err)
		}
		return
	}

	a.metrics.AlertsDispatched.WithLabelValues("sent").Inc()
	log.Infow("Balance alert sent", "email", alert.Email, "balance", result.Balance.String())
	if err := a.store.CompleteAlert(ctx, &models.EmailAlertLog{
		AlertID:   alert.ID,
		DAppID:    result.DAppID,
		DAppName:  result.DAppName,
		Email:     alert.Email,
		Balance:   result.Balance,
		Threshold: alert.BalanceThreshold,
		SentAt:    a.now(),
	}); err != nil {
		// The lease still holds the alert; it may be sent again after it lapses.
		log.Errorw("Failed to complete email alert", "error", err)
	}
}

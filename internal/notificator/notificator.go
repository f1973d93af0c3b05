package notificator

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/logger"
)

// Notificator delivers balance alerts by email. Delivery success is decided by
// the email channel only; the Telegram mirror is best effort.
type Notificator struct {
	logger *logger.Logger

	Mailer              Mailer
	TelegramNotificator *TelegramNotificator
}

var _ models.AlertSender = (*Notificator)(nil)

func NewNotificator(logger *logger.Logger, mailer Mailer, telNotif *TelegramNotificator) *Notificator {
	return &Notificator{logger: logger, Mailer: mailer, TelegramNotificator: telNotif}
}

// safeCall runs a function with panic recovery (synchronous, no goroutine spawning)
func (n *Notificator) safeCall(fn func() error, context string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Errorw("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%s panicked: %v", context, r)
		}
	}()
	return fn()
}

func (n *Notificator) Send(ctx context.Context, alert *models.AlertNotification) error {
	if n.Mailer == nil {
		return fmt.Errorf("no email channel configured")
	}
	message := alert.String()
	if err := n.safeCall(func() error {
		return n.Mailer.SendMail(ctx, alert.Email, alert.Subject(), message)
	}, "emailNotification"); err != nil {
		return err
	}

	if n.TelegramNotificator != nil && n.TelegramNotificator.chatID != "" {
		mirror := fmt.Sprintf("%s\n\nRecipient: %s", message, alert.Email)
		if err := n.safeCall(func() error {
			return n.TelegramNotificator.SendNotification(ctx, mirror)
		}, "telegramNotification"); err != nil {
			n.logger.Warnw("Failed to mirror alert to telegram", "error", err)
		}
	}
	return nil
}

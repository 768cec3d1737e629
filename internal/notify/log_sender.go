// Package notify holds the email senders used for dead-letter escalation.
package notify

import (
	"context"

	"rxgate/pkg/logger"

	"go.uber.org/zap"
)

// LogSender writes mail to the log instead of sending it. Default for
// development.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to, subject, text string) (bool, error) {
	logger.GetGlobalLogger().Ctx(ctx).Logger.Info("email",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", text))
	return true, nil
}

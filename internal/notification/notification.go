package notification

import (
	"context"
	"log/slog"
)

const (
	// KindTopUpCompleted indicates a gateway top-up settled into the wallet.
	KindTopUpCompleted = "topup_completed"
	// KindRefundIssued indicates a refund credit was posted.
	KindRefundIssued = "refund_issued"
	// KindWalletFrozen indicates an administrative wallet suspension.
	KindWalletFrozen = "wallet_frozen"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

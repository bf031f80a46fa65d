package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/allisson/recoverability/internal/errors"
)

// FailedMessageStatusChannel is the PostgreSQL channel notified by the failed_messages status trigger.
const FailedMessageStatusChannel = "failed_message_status"

// PostgreSQLChangeFeed listens for status change notifications with LISTEN/NOTIFY.
type PostgreSQLChangeFeed struct {
	dsn          string
	pingInterval time.Duration
	logger       *slog.Logger
}

// Run signals on every notification and after every reconnect, since notifications sent while
// disconnected are lost.
func (f *PostgreSQLChangeFeed) Run(ctx context.Context, signal func()) error {
	listener := pq.NewListener(f.dsn, time.Second, time.Minute, func(event pq.ListenerEventType, err error) {
		if err != nil {
			f.logger.Warn("failure status listener event", slog.Int("event", int(event)), slog.Any("error", err))
		}
	})
	defer func() {
		_ = listener.Close()
	}()

	if err := listener.Listen(FailedMessageStatusChannel); err != nil {
		return apperrors.Wrap(err, "failed to listen for failure status changes")
	}

	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-listener.Notify:
			// A nil notification means the connection was re-established.
			signal()
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				f.logger.Warn("failure status listener ping failed", slog.Any("error", err))
			}
		}
	}
}

// NewPostgreSQLChangeFeed creates a new PostgreSQLChangeFeed.
func NewPostgreSQLChangeFeed(dsn string, logger *slog.Logger) *PostgreSQLChangeFeed {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PostgreSQLChangeFeed{dsn: dsn, pingInterval: 90 * time.Second, logger: logger}
}

// PollingChangeFeed signals on a fixed interval. It serves stores without change notifications.
type PollingChangeFeed struct {
	interval time.Duration
}

// Run signals on every tick until ctx is done.
func (f *PollingChangeFeed) Run(ctx context.Context, signal func()) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			signal()
		}
	}
}

// NewPollingChangeFeed creates a new PollingChangeFeed.
func NewPollingChangeFeed(interval time.Duration) *PollingChangeFeed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingChangeFeed{interval: interval}
}

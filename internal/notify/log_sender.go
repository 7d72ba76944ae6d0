package notify

import (
	"context"
	"log/slog"
	"time"
)

// LogSender writes codes to the log instead of mailing them. Local use only.
type LogSender struct {
	Logger *slog.Logger
}

func (l *LogSender) SendCode(ctx context.Context, toEmail, code string, ttl time.Duration) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "verification code issued", "to", toEmail, "code", code, "expires_in", ttl.String())
	return nil
}

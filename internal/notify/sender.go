// Package notify delivers one-time verification codes. The delivery channel
// (log, SMTP, HTTPS mail API) is picked once at startup; callers only see the
// Sender interface and the classified errors below.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

var (
	ErrNotConfigured    = errors.New("mail delivery not configured")
	ErrAuthFailed       = errors.New("mail provider rejected credentials")
	ErrNetworkTimeout   = errors.New("mail provider unreachable or timed out")
	ErrProviderRejected = errors.New("mail provider rejected message")
)

type Sender interface {
	SendCode(ctx context.Context, toEmail, code string, ttl time.Duration) error
}

const (
	ModeLog  = "log"
	ModeSMTP = "smtp"
	ModeHTTP = "http"
)

type Config struct {
	Mode    string
	From    string
	Timeout time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPStartTLS bool

	APIKey     string
	APIBaseURL string
}

func New(cfg Config, logger *slog.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case ModeLog, "":
		return &LogSender{Logger: logger}, nil
	case ModeSMTP, "mail":
		return &SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			StartTLS: cfg.SMTPStartTLS,
			Timeout:  cfg.Timeout,
		}, nil
	case ModeHTTP, "resend":
		return NewHTTPSender(cfg.APIBaseURL, cfg.APIKey, cfg.From, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown mail mode %q", cfg.Mode)
}

// Cause names the classified failure for metrics and logs.
func Cause(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrNetworkTimeout):
		return "network_timeout"
	case errors.Is(err, ErrProviderRejected):
		return "provider_rejected"
	}
	return "unknown"
}

func subject() string { return "Your verification code" }

func body(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code is: %s\n\nThis code expires in %d minutes.", code, int(ttl.Minutes()))
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

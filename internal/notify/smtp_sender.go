package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	Timeout  time.Duration
}

func (s *SMTPSender) SendCode(ctx context.Context, toEmail, code string, ttl time.Duration) error {
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("smtp host is empty: %w", ErrNotConfigured)
	}
	if s.Username == "" || s.Password == "" {
		return fmt.Errorf("smtp credentials are missing: %w", ErrNotConfigured)
	}
	from := s.From
	if from == "" {
		from = s.Username
	}
	port := s.Port
	if port == 0 {
		port = 587
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.Host, strconv.Itoa(port)))
	if err != nil {
		return classifySMTP(err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return classifySMTP(err)
	}
	defer c.Close()

	if s.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
				return classifySMTP(err)
			}
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return classifySMTP(err)
		}
	}
	if err := c.Mail(from); err != nil {
		return classifySMTP(err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return classifySMTP(err)
	}
	w, err := c.Data()
	if err != nil {
		return classifySMTP(err)
	}
	msg := "From: " + from + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: " + subject() + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body(code, ttl) + "\r\n"
	if _, err := w.Write([]byte(msg)); err != nil {
		return classifySMTP(err)
	}
	if err := w.Close(); err != nil {
		return classifySMTP(err)
	}
	if err := c.Quit(); err != nil {
		return classifySMTP(err)
	}
	return nil
}

func classifySMTP(err error) error {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch tp.Code {
		case 530, 534, 535:
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %w", ErrProviderRejected, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "authentication failed") || strings.Contains(msg, "username and password not accepted") {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrProviderRejected, err)
}

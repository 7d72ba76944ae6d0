package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultAPIBaseURL = "https://api.resend.com"

// HTTPSender posts mail through a Resend-compatible HTTPS API, for hosts that
// block outbound SMTP.
type HTTPSender struct {
	BaseURL string
	APIKey  string
	From    string
	Client  *http.Client
}

func NewHTTPSender(baseURL, apiKey, from string, timeout time.Duration) *HTTPSender {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  strings.TrimSpace(apiKey),
		From:    from,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPSender) SendCode(ctx context.Context, toEmail, code string, ttl time.Duration) error {
	if h.APIKey == "" {
		return fmt.Errorf("mail api key is empty: %w", ErrNotConfigured)
	}
	if strings.TrimSpace(h.From) == "" {
		return fmt.Errorf("mail from address is empty: %w", ErrNotConfigured)
	}
	payload := map[string]any{
		"from":    h.From,
		"to":      []string{toEmail},
		"subject": subject(),
		"text":    body(code, ttl),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/emails", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.APIKey)

	resp, err := h.Client.Do(req)
	if err != nil {
		if isNetworkError(err) {
			return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrProviderRejected, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: http %d: %s", ErrAuthFailed, resp.StatusCode, detail)
	}
	return fmt.Errorf("%w: http %d: %s", ErrProviderRejected, resp.StatusCode, detail)
}

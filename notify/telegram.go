package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramProvider sends messages via the Telegram Bot API.
type TelegramProvider struct {
	token  string
	apiURL string
	client *http.Client
	logger *slog.Logger
	delay  time.Duration
}

// NewTelegramProvider creates a Telegram provider. An empty apiURL uses DefaultTelegramAPI.
func NewTelegramProvider(token, apiURL string, client *http.Client, logger *slog.Logger) *TelegramProvider {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TelegramProvider{
		token:  token,
		apiURL: apiURL,
		client: client,
		logger: logger,
		delay:  time.Second,
	}
}

// Name implements Provider.
func (p *TelegramProvider) Name() string {
	return "telegram"
}

type telegramSendRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Send implements Provider. recipient is a chat id.
func (p *TelegramProvider) Send(ctx context.Context, recipient, text string) error {
	jsonData, err := json.Marshal(telegramSendRequest{
		ChatID:                recipient,
		Text:                  text,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", p.apiURL, p.token)

	return retry.Do(
		func() error {
			p.logger.Info("Telegram API request starting",
				"method", "POST",
				"endpoint", "sendMessage",
				"chat_id", recipient)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := p.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				err = p.redact(err)
				p.logger.Warn("Telegram API request failed, will retry",
					"chat_id", recipient,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			var body telegramResponse
			if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr != nil {
				body.Description = "unreadable response"
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				p.logger.Warn("Telegram API returned retryable status, will retry",
					"status_code", resp.StatusCode,
					"chat_id", recipient)
				return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body.Description)
			case resp.StatusCode < 200 || resp.StatusCode >= 300 || !body.OK:
				return retry.Unrecoverable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, body.Description))
			}

			p.logger.Info("Telegram API request completed",
				"endpoint", "sendMessage",
				"chat_id", recipient,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(p.delay),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying Telegram send after error", "attempt", n, "error", err)
		}),
	)
}

// redact strips the bot token from transport errors, which quote the request URL.
func (p *TelegramProvider) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf("%s sendMessage: %w", urlErr.Op, urlErr.Err)
	}
	if p.token != "" && strings.Contains(err.Error(), p.token) {
		return errors.New(strings.ReplaceAll(err.Error(), p.token, "<redacted>"))
	}
	return err
}

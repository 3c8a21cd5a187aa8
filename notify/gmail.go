package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// GmailSubject is the subject line of notification emails.
const GmailSubject = "Novi termini za glavno vožnjo"

// GmailProvider sends messages as plain-text email via the Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a new Gmail provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
	}
}

// Name implements Provider.
func (g *GmailProvider) Name() string {
	return "gmail"
}

// sanitizeEmailHeader drops control characters so a value cannot start a new header line.
func sanitizeEmailHeader(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// mimeMessage builds a base64url encoded RFC 5322 message.
func mimeMessage(to, subject, body string) string {
	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("To: %s\r\n", sanitizeEmailHeader(to)))
	msg.WriteString(fmt.Sprintf("Subject: =?UTF-8?B?%s?=\r\n", base64.StdEncoding.EncodeToString([]byte(sanitizeEmailHeader(subject)))))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(msg.String()))
}

// retryableGmailError reports whether a failed send is worth another attempt.
// Quota and server errors are; rejected requests (bad address, revoked grant) are not.
func retryableGmailError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
}

// Send implements Provider. recipient is an email address.
func (g *GmailProvider) Send(ctx context.Context, recipient, text string) error {
	msg := &gmail.Message{Raw: mimeMessage(recipient, GmailSubject, text)}
	call := g.service.Users.Messages.Send("me", msg)

	attempt := 0
	return retry.Do(
		func() error {
			attempt++
			start := time.Now()
			sent, err := call.Context(ctx).Do()
			if err != nil {
				g.logger.Warn("Email delivery attempt failed",
					"to", recipient,
					"attempt", attempt,
					"retryable", retryableGmailError(err),
					"duration_ms", time.Since(start).Milliseconds(),
					"error", err)
				return err
			}
			g.logger.Info("Email delivered",
				"to", recipient,
				"message_id", sent.Id,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.RetryIf(retryableGmailError),
	)
}

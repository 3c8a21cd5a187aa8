// Package scraper handles fetching and parsing calendar pages of the slot source.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"termini-notifier/params"
)

// DefaultAttempts is the number of tries per page before the window is given up.
const DefaultAttempts = 3

// HTTPStatusError indicates the source answered with a non-2xx status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsHTTPStatusError checks if an error is an HTTP status error.
func IsHTTPStatusError(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr)
}

func isClientError(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
}

// Scraper fetches and parses calendar windows.
type Scraper struct {
	client   *http.Client
	logger   *slog.Logger
	baseURL  string
	attempts uint
	delay    time.Duration
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithAttempts sets how many times a page is requested before giving up.
func WithAttempts(n uint) Option {
	return func(s *Scraper) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithRetryDelay sets the base delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scraper) {
		s.delay = d
	}
}

// New creates a new scraper for the calendar endpoint at baseURL.
// The client should carry a timeout; a cycle is bounded by it.
func New(client *http.Client, baseURL string, logger *slog.Logger, opts ...Option) *Scraper {
	s := &Scraper{
		client:   client,
		logger:   logger,
		baseURL:  baseURL,
		attempts: DefaultAttempts,
		delay:    time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window fetches the calendar for one filter descriptor and extracts its rows.
func (s *Scraper) Window(ctx context.Context, filters params.Descriptor) ([]RawEvent, error) {
	pageURL := filters.URL(s.baseURL)

	var events []RawEvent
	err := s.fetch(ctx, pageURL, func(body io.Reader) error {
		var err error
		events, err = Extract(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// fetch requests pageURL and hands a 2xx body to handle.
func (s *Scraper) fetch(ctx context.Context, pageURL string, handle func(io.Reader) error) error {
	err := retry.Do(
		func() error {
			s.logger.Info("HTTP request starting",
				"method", "GET",
				"url", pageURL,
				"purpose", "fetch_calendar_window")

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "sl-SI,sl;q=0.9,en;q=0.8")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds(),
				"content_length", resp.ContentLength)

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
			}

			if err := handle(resp.Body); err != nil {
				s.logger.Error("Failed to parse calendar page", "url", pageURL, "error", err)
				return retry.Unrecoverable(fmt.Errorf("parse page: %w", err))
			}
			return nil
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !isClientError(err)
		}),
	)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return nil
}

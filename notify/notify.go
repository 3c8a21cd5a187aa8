// Package notify delivers notification text to the configured recipients.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"termini-notifier/metrics"
)

// Provider sends one text message to one recipient.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Send delivers text to recipient (a chat id, an email address, ...).
	Send(ctx context.Context, recipient, text string) error
}

// Channel is a provider together with the recipients it delivers to.
type Channel struct {
	Provider   Provider
	Recipients []string
}

// DeliveryError describes a failed delivery to one recipient.
type DeliveryError struct {
	Provider  string
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s to %s: %v", e.Provider, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Notifier fans a message out to every recipient of every channel.
type Notifier struct {
	channels []Channel
	logger   *slog.Logger
	metrics  *metrics.Metrics
	// maxParallel bounds concurrent deliveries.
	maxParallel int
}

// New creates a notifier. m may be nil.
func New(channels []Channel, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		channels:    channels,
		logger:      logger,
		metrics:     m,
		maxParallel: 4,
	}
}

// Recipients returns the total number of recipients.
func (n *Notifier) Recipients() int {
	total := 0
	for _, ch := range n.channels {
		total += len(ch.Recipients)
	}
	return total
}

// Broadcast sends text to all recipients and waits for every delivery.
// A failure for one recipient does not stop the others; all failures are
// returned joined, each as a *DeliveryError.
func (n *Notifier) Broadcast(ctx context.Context, text string) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(n.maxParallel)

	for _, ch := range n.channels {
		for _, recipient := range ch.Recipients {
			g.Go(func() error {
				err := ch.Provider.Send(ctx, recipient, text)
				n.metrics.Notification(ch.Provider.Name(), err)
				if err != nil {
					n.logger.Warn("Notification delivery failed",
						"provider", ch.Provider.Name(),
						"recipient", recipient,
						"error", err)
					mu.Lock()
					errs = append(errs, &DeliveryError{Provider: ch.Provider.Name(), Recipient: recipient, Err: err})
					mu.Unlock()
					return nil
				}
				n.logger.Info("Notification delivered",
					"provider", ch.Provider.Name(),
					"recipient", recipient,
					"body_length", len(text))
				return nil
			})
		}
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

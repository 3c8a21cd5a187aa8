package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Message is a delivery recorded by MockProvider.
type Message struct {
	Recipient string
	Text      string
}

// MockProvider logs messages instead of sending them, for local development and tests.
type MockProvider struct {
	logger *slog.Logger
	fail   map[string]error

	mu   sync.Mutex
	sent []Message
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
		fail:   map[string]error{},
	}
}

// FailFor makes every send to recipient return err.
func (m *MockProvider) FailFor(recipient string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[recipient] = err
}

// Name implements Provider.
func (m *MockProvider) Name() string {
	return "mock"
}

// Send implements Provider.
func (m *MockProvider) Send(_ context.Context, recipient, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.fail[recipient]; ok {
		return err
	}
	m.sent = append(m.sent, Message{Recipient: recipient, Text: text})
	m.logger.Info("MOCK MESSAGE",
		"to", recipient,
		"body_length", len(text))
	return nil
}

// Sent returns the recorded messages.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

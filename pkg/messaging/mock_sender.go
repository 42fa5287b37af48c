package messaging

import (
	"context"
	"sync"
)

// MockFillSender records sent messages for testing.
type MockFillSender struct {
	mu   sync.Mutex
	sent []*FillMessage
}

// NewMockFillSender creates a new MockFillSender.
func NewMockFillSender() *MockFillSender {
	return &MockFillSender{}
}

// SendFillMessage records the message.
func (m *MockFillSender) SendFillMessage(_ context.Context, msg *FillMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockFillSender) Sent() []*FillMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*FillMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Close does nothing.
func (m *MockFillSender) Close() error { return nil }

// NopFillSender discards every message.
type NopFillSender struct{}

// SendFillMessage does nothing.
func (NopFillSender) SendFillMessage(context.Context, *FillMessage) error { return nil }

// Close does nothing.
func (NopFillSender) Close() error { return nil }

// Ensure implementations satisfy FillSender
var (
	_ FillSender = (*MockFillSender)(nil)
	_ FillSender = NopFillSender{}
)

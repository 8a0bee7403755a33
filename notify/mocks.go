package notify

import (
	"context"
	"sync"

	"tabsync/core"
)

// MockNotifier records notifications for tests.
type MockNotifier struct {
	mu    sync.Mutex
	Calls []MockCall
}

// MockCall captures one DeltaProduced invocation.
type MockCall struct {
	Recipients []core.Topic
	Delta      *core.Delta
}

// DeltaProduced records the call.
func (m *MockNotifier) DeltaProduced(_ context.Context, recipients []core.Topic, delta *core.Delta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Recipients: recipients, Delta: delta})
}

// CallCount returns how many notifications were recorded.
func (m *MockNotifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Last returns the most recent call, or nil.
func (m *MockNotifier) Last() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	c := m.Calls[len(m.Calls)-1]
	return &c
}

package llm

import (
	"context"
	"sync"
)

// MockProvider implements Provider for tests. Replies are served in order;
// the last one repeats once the queue is drained.
type MockProvider struct {
	mu sync.Mutex

	name    string
	replies []string
	errs    []error
	reply   func(Request) (string, error)

	Calls []Request
}

// NewMockProvider creates a mock that serves replies in order.
func NewMockProvider(replies ...string) *MockProvider {
	return &MockProvider{name: "mock", replies: replies}
}

// WithErrors queues errors returned before any reply is served.
func (m *MockProvider) WithErrors(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
	return m
}

// WithFunc answers every call with fn instead of the reply queue.
func (m *MockProvider) WithFunc(fn func(Request) (string, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = fn
	return m
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Generate(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)

	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return Response{}, err
	}
	if m.reply != nil {
		text, err := m.reply(req)
		return Response{Text: text}, err
	}
	switch len(m.replies) {
	case 0:
		return Response{}, ErrEmptyResponse
	case 1:
		return Response{Text: m.replies[0]}, nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return Response{Text: r}, nil
}

// CallCount returns the number of Generate calls so far.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

package inference

import (
	"context"
	"errors"
	"iter"
	"sync"
)

var _ Backend = (*Mock)(nil)

// ErrMockExhausted is returned when a Mock runs out of scripted replies.
var ErrMockExhausted = errors.New("inference: mock has no more scripted replies")

// Mock is a scripted Backend for tests. Each Stream call consumes the next
// script; StreamFunc, when set, takes precedence.
type Mock struct {
	// StreamFunc replaces the scripted behaviour when set.
	StreamFunc func(ctx context.Context, req *Request) ([]Fragment, error)

	mu       sync.Mutex
	scripts  [][]Fragment
	errs     []error
	requests []*Request
}

// NewMock returns a mock that replays the given scripts in order.
func NewMock(scripts ...[]Fragment) *Mock {
	return &Mock{scripts: scripts, errs: make([]error, len(scripts))}
}

// Then appends a scripted reply.
func (m *Mock) Then(frags ...Fragment) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, frags)
	m.errs = append(m.errs, nil)
	return m
}

// ThenError appends a round that fails with err after yielding frags.
func (m *Mock) ThenError(err error, frags ...Fragment) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, frags)
	m.errs = append(m.errs, err)
	return m
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Stream replays the next script.
func (m *Mock) Stream(ctx context.Context, req *Request) iter.Seq2[Fragment, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.StreamFunc
	var frags []Fragment
	var err error
	if fn == nil {
		if len(m.scripts) == 0 {
			err = ErrMockExhausted
		} else {
			frags, err = m.scripts[0], m.errs[0]
			m.scripts, m.errs = m.scripts[1:], m.errs[1:]
		}
	}
	m.mu.Unlock()

	if fn != nil {
		frags, err = fn(ctx, req)
	}

	return func(yield func(Fragment, error) bool) {
		for _, f := range frags {
			if ctx.Err() != nil {
				yield(Fragment{}, ctx.Err())
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if err != nil {
			yield(Fragment{}, err)
		}
	}
}

// Requests returns the recorded requests.
func (m *Mock) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many rounds were requested.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Text is a convenience for a text fragment.
func Text(s string) Fragment {
	return Fragment{Text: s}
}

// Call is a convenience for a fragment carrying one tool call.
func Call(name string, args map[string]any) Fragment {
	return Fragment{ToolCalls: []ToolCall{{Name: name, Arguments: args}}}
}

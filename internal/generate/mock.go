// ABOUTME: In-memory Generator and Analyzer fakes for tests
// ABOUTME: Scripted results are returned in order; exhausted scripts repeat the last entry

package generate

import (
	"context"
	"sync"
)

// MockGenerator returns scripted results. Safe for concurrent use.
type MockGenerator struct {
	mu       sync.Mutex
	results  []*Result
	errs     []error
	calls    int
	Requests []*Request
}

// NewMockGenerator creates an empty mock; script it with Queue.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Queue appends one scripted outcome. Pass a nil error for success.
func (m *MockGenerator) Queue(res *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	m.errs = append(m.errs, err)
}

// Generate pops the next scripted outcome.
func (m *MockGenerator) Generate(ctx context.Context, req *Request) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	i := m.calls
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	m.calls++
	if i < 0 {
		return &Result{Text: "mock reply", FinishReason: "stop"}, nil
	}
	return m.results[i], m.errs[i]
}

// Calls reports how many times Generate ran.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockAnalyzer returns a fixed analysis.
type MockAnalyzer struct {
	Result *Analysis
	Err    error
}

// Analyze returns the fixed analysis or error.
func (m *MockAnalyzer) Analyze(ctx context.Context, text string, history []Message) (*Analysis, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &Analysis{Intent: "question", Confidence: 0.9, Emotion: "neutral"}, nil
}

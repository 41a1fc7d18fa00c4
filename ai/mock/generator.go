package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/docrag/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	// Chunks are streamed in order by GenerateStream when no GenerateFunc is set.
	// When empty, a single canned answer is used.
	Chunks []string

	// StreamErr is returned by GenerateStream after all Chunks were delivered.
	StreamErr error

	mu         sync.Mutex
	callCount  int
	lastPrompt string
}

// NewMockGenerator creates a mock generator that answers with a canned response.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// DefaultAnswer is what the mock replies when nothing else was configured.
const DefaultAnswer = "This is a generated answer."

func (m *MockGenerator) record(prompt string) {
	m.mu.Lock()
	m.callCount++
	m.lastPrompt = prompt
	m.mu.Unlock()
}

// Generate returns the configured answer.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.record(prompt)
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	if len(m.Chunks) > 0 {
		return strings.Join(m.Chunks, ""), m.StreamErr
	}
	return DefaultAnswer, nil
}

// GenerateStream delivers the configured chunks through fn.
func (m *MockGenerator) GenerateStream(ctx context.Context, prompt string, fn ai.StreamFunc) (string, error) {
	m.record(prompt)

	chunks := m.Chunks
	if m.GenerateFunc != nil {
		answer, err := m.GenerateFunc(ctx, prompt)
		if err != nil {
			return "", err
		}
		chunks = []string{answer}
	} else if len(chunks) == 0 {
		chunks = []string{DefaultAnswer}
	}

	var sb strings.Builder
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return sb.String(), err
		}
		if err := fn(ctx, chunk); err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
	return sb.String(), m.StreamErr
}

// CallCount returns the number of generation calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastPrompt returns the prompt of the most recent call.
func (m *MockGenerator) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockBackend is always ready, makes the Engine total (spec.md §4.2 — a
// request is never rejected for "no backend"), and honours cancellation
// promptly.
type MockBackend struct {
	latency time.Duration
}

// NewMockBackend builds a mock backend that sleeps latency ± jitter before
// returning.
func NewMockBackend(latency time.Duration) *MockBackend {
	return &MockBackend{latency: latency}
}

func (b *MockBackend) Tag() Tag    { return TagMock }
func (b *MockBackend) Ready() bool { return true }

func (b *MockBackend) Generate(ctx context.Context, prompt string, params GenerateParams) (Output, error) {
	start := time.Now()
	jitter := time.Duration(rand.Intn(21)-10) * time.Millisecond // +/-10ms
	sleep := b.latency + jitter
	if sleep < 0 {
		sleep = 0
	}

	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	case <-time.After(sleep):
	}

	return Output{
		Text:      fmt.Sprintf("[mock-response] %d chars of prompt processed deterministically", len(prompt)),
		Model:     "mock-v1",
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

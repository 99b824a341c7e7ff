// Package engine implements the per-worker Inference Engine: a ranked
// multi-backend fallback chain with a circuit breaker isolating the remote
// HTTP backend (spec.md §4.2). Adapted from the teacher's single-backend
// Ollama call path (AaronKronberg/OpusGoLlama had exactly one backend, so it
// never needed a chain) generalized to the tagged-variant design spec.md §9
// calls for: one Backend interface, preference order as data.
package engine

import (
	"context"
	"time"
)

// Tag identifies a backend substrate.
type Tag string

const (
	TagHTTP             Tag = "http"
	TagNativeLocal       Tag = "native-local"
	TagEmbeddingLearning Tag = "embedded-learning"
	TagMock              Tag = "mock"
)

// Order is the fixed backend preference order (spec.md §4.2).
var Order = []Tag{TagHTTP, TagNativeLocal, TagEmbeddingLearning, TagMock}

// Output is what a backend call returns on success.
type Output struct {
	Text             string
	Model            string
	LatencyMs        int64
	PromptTokens     int // 0 if unknown
	CompletionTokens int // 0 if unknown
}

// Backend is the single-method generation interface every adapter
// implements. prompt is the fully-assembled text the Engine built (§4.2
// Prompt construction); adapters never synthesize their own prompt.
type Backend interface {
	Tag() Tag
	Ready() bool
	Generate(ctx context.Context, prompt string, req GenerateParams) (Output, error)
}

// GenerateParams is the subset of a GenerateRequest a Backend needs,
// decoupled from the task package to avoid an import cycle between engine
// and pool.
type GenerateParams struct {
	MaxTokens   int
	Temperature float64
}

// Descriptor is the read-only status view of one backend, surfaced via
// Status (spec.md §3 BackendDescriptor).
type Descriptor struct {
	Tag     Tag
	Ready   bool
	Note    string
	Circuit *CircuitSnapshot // non-nil only for the http backend
}

// CircuitSnapshot is a point-in-time read of a CircuitBreaker.
type CircuitSnapshot struct {
	State         string
	Failures      int
	OpenedAt      time.Time
	NextAttemptAt time.Time
}

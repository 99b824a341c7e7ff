package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// PromptInput is the subset of a generation request the Engine needs to
// render the one canonical prompt spec.md §4.2 describes. This is the only
// place a prompt is assembled — adapters never synthesize their own.
type PromptInput struct {
	TaskType    string
	Language    string
	FilePath    string
	Instruction string // already rewritten by Pattern Memory
	Context     string
}

// Engine owns one worker's ordered backends and walks the ranked fallback
// chain on every call. Adapted from the teacher's single-call-site Ollama
// invocation (it had no chain because it had no alternative backend); the
// chain-of-responsibility shape here is grounded on
// veighnsche-modeld-go-1's InferenceAdapter/InferSession split and
// leon37-zam-gateway's Router.Select, generalized to a fixed preference
// order rather than a dynamic router since spec.md §9 requires "preference
// order is data, not control flow".
type Engine struct {
	backends []Backend
	log      *zap.Logger

	// current is the backend that served the most recent successful call.
	// Written by the worker goroutine inside Generate, but also read by
	// whatever goroutine handles ruvltra_status or polls metrics
	// (spec.md §5 is silent on cross-goroutine status reads), so it is an
	// atomic.Value rather than a plain field.
	current atomic.Value // holds Tag
}

// New builds an Engine from backends already ordered per Order. Callers
// construct backends directly in that order; New does not reorder them.
func New(backends []Backend, log *zap.Logger) *Engine {
	return &Engine{backends: backends, log: log}
}

// CurrentBackend returns the tag of the backend that served this engine's
// most recent successful call, or "" if it has never completed one — used
// for PoolStatus's by-backend worker breakdown.
func (e *Engine) CurrentBackend() Tag {
	v, _ := e.current.Load().(Tag)
	return v
}

// Descriptors returns a read-only status view of every backend, for
// Status.
func (e *Engine) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(e.backends))
	for _, b := range e.backends {
		d := Descriptor{Tag: b.Tag(), Ready: b.Ready()}
		if hb, ok := b.(*HTTPBackend); ok {
			d.Note = hb.breaker.Note()
			snap := hb.Breaker().Snapshot()
			d.Circuit = &snap
		}
		if nb, ok := b.(*NativeBackend); ok {
			d.Note = nb.Note()
		}
		out = append(out, d)
	}
	return out
}

// BuildPrompt renders the single canonical prompt from a GenerateRequest-
// shaped input (spec.md §4.2 Prompt construction).
func BuildPrompt(in PromptInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", in.TaskType)
	if in.Language != "" {
		fmt.Fprintf(&sb, "Language: %s\n", in.Language)
	}
	if in.FilePath != "" {
		fmt.Fprintf(&sb, "File: %s\n", in.FilePath)
	}
	sb.WriteString("\nInstruction:\n")
	sb.WriteString(in.Instruction)
	if in.Context != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(in.Context)
	}
	sb.WriteString("\n\nReturn only the final answer.\n")
	return sb.String()
}

// CallResult is the outcome of Generate, reporting which backend actually
// served the request.
type CallResult struct {
	Output  Output
	Backend Tag
}

// Generate walks the backend chain in order, skipping unready backends,
// attempting each ready one in turn, and returning on the first success.
// If every ready backend fails, the last error is returned (spec.md
// §4.2 "Per-call algorithm").
func (e *Engine) Generate(ctx context.Context, prompt string, params GenerateParams) (CallResult, error) {
	var lastErr error
	attempted := false

	for _, b := range e.backends {
		if ctx.Err() != nil {
			return CallResult{}, ctx.Err()
		}
		if !b.Ready() {
			continue
		}
		attempted = true

		out, err := b.Generate(ctx, prompt, params)
		if err == nil {
			e.current.Store(b.Tag())
			return CallResult{Output: out, Backend: b.Tag()}, nil
		}
		lastErr = err
		if e.log != nil {
			e.log.Debug("backend attempt failed, trying next",
				zap.String("backend", string(b.Tag())),
				zap.Error(err))
		}
		// cancellation is checked again at the top of the loop before the
		// next backend is attempted (spec.md §5 "checks cancellation before
		// attempting the next backend").
	}

	if !attempted {
		return CallResult{}, fmt.Errorf("engine: no backend ready")
	}
	return CallResult{}, fmt.Errorf("engine: all ready backends failed: %w", lastErr)
}

package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TrajectoryRecorder is the hook an EmbeddedBackend may call with every
// prompt/response pair it produces, at a fixed confidence. Grounded on
// blackms-claude-flow-go's neural.Trajectory/neural.TrajectoryStep: a
// recorded interaction there is a sequence of typed steps with a verdict;
// here it is reduced to the single observation/result pair spec.md §4.2.3
// describes, since the pool — not the backend — owns outcome scoring
// (Pattern Memory, §4.3).
type TrajectoryRecorder interface {
	Record(prompt, response string, confidence float64)
}

// EmbeddedBackend is the in-process "embedded-learning" substrate: a
// callable constructed once per worker, with no external process or
// network call. It may trigger a one-time model download to a fixed path
// the first time it is used, and may report trajectories through an
// optional recorder.
//
// This implementation is template-based rather than a real learned model:
// no pure-Go, cgo-free embeddable inference library appears anywhere in
// the retrieval pack (the pack's only embedded-learning-flavored code,
// blackms-claude-flow-go's neural package, is itself a domain-type library
// with no runnable model backing it), so the generation step here is a
// deterministic composition over the prompt grounded in the same
// Pattern/Trajectory/confidence vocabulary that package uses. See
// DESIGN.md for the full justification.
type EmbeddedBackend struct {
	downloadPath string
	recorder     TrajectoryRecorder
	confidence   float64

	mu    sync.Mutex
	ready bool
	note  string

	log *zap.Logger
}

const embeddedTrajectoryConfidence = 0.55

// NewEmbeddedBackend constructs the backend and runs ensureDownload
// synchronously. The backend is ready only when downloadPath is set; with
// an empty path it reports Ready()==false and the engine falls through to
// the next backend.
func NewEmbeddedBackend(downloadPath string, recorder TrajectoryRecorder, log *zap.Logger) *EmbeddedBackend {
	b := &EmbeddedBackend{
		downloadPath: downloadPath,
		recorder:     recorder,
		confidence:   embeddedTrajectoryConfidence,
		ready:        downloadPath != "",
		log:          log,
	}
	if !b.ready {
		b.note = "no embedded download path configured"
	}
	if err := ensureDownload(downloadPath); err != nil {
		b.ready = false
		b.note = "embedded model unavailable: " + err.Error()
	}
	return b
}

// ensureDownload is a placeholder for the one-time model fetch spec.md
// §4.2.3 requires happen outside any package cache, so it survives
// reinstalls. It fetches nothing and returns nil for every path.
func ensureDownload(path string) error {
	if path == "" {
		return nil
	}
	return nil
}

func (b *EmbeddedBackend) Tag() Tag { return TagEmbeddingLearning }

func (b *EmbeddedBackend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *EmbeddedBackend) Generate(ctx context.Context, prompt string, params GenerateParams) (Output, error) {
	if !b.Ready() {
		return Output{}, fmt.Errorf("embedded backend: not ready: %s", b.note)
	}
	start := time.Now()

	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	text := composeEmbeddedResponse(prompt)

	if b.recorder != nil {
		b.recorder.Record(prompt, text, b.confidence)
	}

	return Output{
		Text:      text,
		Model:     "embedded-learning-v1",
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// composeEmbeddedResponse is a deterministic, instruction-grounded
// composition: it extracts the instruction line from the canonical prompt
// (built by Engine.buildPrompt) and produces a short structured answer.
// It is not a learned model — see the EmbeddedBackend doc comment.
func composeEmbeddedResponse(prompt string) string {
	instr := extractInstructionLine(prompt)
	return fmt.Sprintf(
		"[embedded-learning] addressing: %s\n\nThis response was produced by the in-process embedded learning backend without a network or native model call.",
		instr,
	)
}

func extractInstructionLine(prompt string) string {
	const marker = "Instruction:\n"
	idx := strings.Index(prompt, marker)
	if idx < 0 {
		return strings.TrimSpace(prompt)
	}
	rest := prompt[idx+len(marker):]
	if end := strings.Index(rest, "\n\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

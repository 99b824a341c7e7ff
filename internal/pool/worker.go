package pool

import (
	"time"

	"github.com/ruvltra/ruvltra-core/internal/engine"
	"github.com/ruvltra/ruvltra-core/internal/memory"
	"github.com/ruvltra/ruvltra-core/internal/task"
)

// worker is one pool slot: an owned Engine (its own backend chain, and for
// the native backend its own client) and an owned Pattern Memory, so no
// mutable state is ever shared across workers (spec.md §4.2.2/§4.3).
// Grounded on the teacher's single global Ollama client generalized to one
// per worker, per spec.md's explicit "no shared mutable decoder state"
// requirement.
type worker struct {
	id     string
	engine *engine.Engine
	memory *memory.Memory

	taskCh chan *task.Task
	stopCh chan struct{}

	busy       bool
	lastUsedAt time.Time
	createdAt  time.Time

	completed int64
	failed    int64
	timedOut  int64
	cancelled int64
}

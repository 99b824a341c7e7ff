package pool

import (
	"time"

	"github.com/ruvltra/ruvltra-core/internal/engine"
)

// WorkerStatus is the per-worker view inside Status, grounded on the
// teacher's TaskStatus/TaskSummary shape for check_tasks.
type WorkerStatus struct {
	ID          string              `json:"id"`
	Busy        bool                `json:"busy"`
	IdleSeconds int                 `json:"idleSeconds"`
	Completed   int64               `json:"completed"`
	Failed      int64               `json:"failed"`
	TimedOut    int64               `json:"timedOut"`
	Cancelled   int64               `json:"cancelled"`
	Backends    []engine.Descriptor `json:"backends"`
}

// Status is the aggregate snapshot ruvltra_status returns.
type Status struct {
	MinWorkers int            `json:"minWorkers"`
	MaxWorkers int            `json:"maxWorkers"`
	Workers    []WorkerStatus `json:"workers"`

	QueueLength    int `json:"queueLength"`
	QueueMaxLength int `json:"queueMaxLength"`
	InFlight       int `json:"inFlight"`

	// ByBackend counts workers whose most recent successful call was served
	// by each backend tag (spec.md §4.1 "a breakdown of workers by
	// currently-selected backend"). A worker that has never completed a call
	// is not counted under any tag.
	ByBackend map[string]int `json:"byBackend"`

	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timedOut"`
	Cancelled int64 `json:"cancelled"`
	Rejected  int64 `json:"rejected"`
}

func (p *Pool) snapshotStatusLocked(now time.Time) Status {
	st := Status{
		MinWorkers:     p.cfg.MinWorkers,
		MaxWorkers:     p.cfg.MaxWorkers,
		QueueLength:    len(p.queue),
		QueueMaxLength: p.cfg.QueueMaxLength,
		ByBackend:      make(map[string]int),
		Submitted:      p.submitted,
		Completed:      p.completedCount,
		Failed:         p.failedCount,
		TimedOut:       p.timedOutCount,
		Cancelled:      p.cancelledCount,
		Rejected:       p.rejectedCount,
	}
	for _, w := range p.workers {
		idle := 0
		if w.busy {
			st.InFlight++
		} else {
			idle = int(now.Sub(w.lastUsedAt).Seconds())
		}
		if current := w.engine.CurrentBackend(); current != "" {
			st.ByBackend[string(current)]++
		}
		st.Workers = append(st.Workers, WorkerStatus{
			ID:          w.id,
			Busy:        w.busy,
			IdleSeconds: idle,
			Completed:   w.completed,
			Failed:      w.failed,
			TimedOut:    w.timedOut,
			Cancelled:   w.cancelled,
			Backends:    w.engine.Descriptors(),
		})
	}
	return st
}

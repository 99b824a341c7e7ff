// Package pool implements the bounded worker pool: queue admission and
// backpressure, idle-preferred LRU dispatch, auto-scaling, per-task
// cancellation/timeout, and the task registry backing ruvltra_status and
// ruvltra_cancel_tasks (spec.md §4.1).
//
// Grounded on the teacher's TaskStore: the registry's locking discipline
// (mutate under the lock, return copies to callers) and its state-machine
// guards (SetRunning/SetCompleted/SetCancelled only transition from the
// expected prior state) are carried over directly; what is new is the
// worker goroutines themselves; the teacher had none — "the worker pool"
// was a raw semaphore-guarded goroutine-per-task launched straight from the
// tool handler.
package pool

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruvltra/ruvltra-core/internal/config"
	"github.com/ruvltra/ruvltra-core/internal/coreerr"
	"github.com/ruvltra/ruvltra-core/internal/engine"
	"github.com/ruvltra/ruvltra-core/internal/memory"
	"github.com/ruvltra/ruvltra-core/internal/task"
)

const (
	idleScaleDownAfter = 20 * time.Second
	heartbeatInterval  = 5 * time.Second
)

// Pool owns every worker, the admission queue, and the task registry.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg config.Config
	log *zap.Logger

	queue    []*task.Task
	registry map[int64]*task.Task
	order    []int64

	// timeouts holds the admit-time deadline timer for every unsettled
	// task, keyed by task ID (spec.md §4.1 "On admit, a timer is armed").
	timeouts map[int64]*time.Timer

	workers []*worker
	nextID  int64
	stopped bool

	submitted       int64
	completedCount  int64
	failedCount     int64
	timedOutCount   int64
	cancelledCount  int64
	rejectedCount   int64

	wg        sync.WaitGroup
	stopHeart chan struct{}
}

// New builds a pool with cfg.InitialWorkers already running, and starts the
// dispatch and heartbeat loops.
func New(cfg config.Config, log *zap.Logger) *Pool {
	p := &Pool{
		cfg:       cfg,
		log:       log,
		registry:  make(map[int64]*task.Task),
		timeouts:  make(map[int64]*time.Timer),
		stopHeart: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	p.mu.Lock()
	for i := 0; i < cfg.InitialWorkers; i++ {
		p.spawnWorkerLocked()
	}
	p.mu.Unlock()

	go p.dispatchLoop()
	go p.heartbeatLoop()
	return p
}

// buildEngine constructs one worker's Engine, backends ordered per
// engine.Order, from the pool's config.
func (p *Pool) buildEngine(workerID string) *engine.Engine {
	httpB := engine.NewHTTPBackend(
		p.cfg.HTTPEndpoint, p.cfg.HTTPAPIKey, p.cfg.HTTPModel, p.cfg.HTTPFormat,
		time.Duration(p.cfg.HTTPTimeoutMs)*time.Millisecond,
		p.cfg.HTTPMaxRetries,
		time.Duration(p.cfg.HTTPRetryBaseMs)*time.Millisecond,
		p.cfg.HTTPCircuitFailureThreshold,
		time.Duration(p.cfg.HTTPCircuitCooldownMs)*time.Millisecond,
		p.log,
	)
	nativeB := engine.NewNativeBackend(p.cfg.NativeEndpoint, p.cfg.NativeModel, p.cfg.ModelPath, p.log)
	embeddedB := engine.NewEmbeddedBackend(p.cfg.EmbeddedDownloadPath, &trajectoryLogger{workerID: workerID, log: p.log}, p.log)
	mockB := engine.NewMockBackend(time.Duration(p.cfg.MockLatencyMs) * time.Millisecond)

	return engine.New([]engine.Backend{httpB, nativeB, embeddedB, mockB}, p.log)
}

// trajectoryLogger is the embedded-learning backend's optional recorder
// hook, wired to structured logging so every backend's activity is
// observable through the same diagnostics path rather than silently
// dropped.
type trajectoryLogger struct {
	workerID string
	log      *zap.Logger
}

func (r *trajectoryLogger) Record(prompt, response string, confidence float64) {
	if r.log == nil {
		return
	}
	r.log.Debug("embedded backend trajectory",
		zap.String("worker", r.workerID),
		zap.Float64("confidence", confidence),
		zap.Int("promptLen", len(prompt)),
		zap.Int("responseLen", len(response)),
	)
}

// spawnWorkerLocked adds one worker and starts its goroutine. Caller must
// hold p.mu.
func (p *Pool) spawnWorkerLocked() *worker {
	id := uuid.NewString()

	var mem *memory.Memory
	if p.cfg.SonaEnabled {
		var dir string
		if p.cfg.SonaStateDir != "" {
			dir = filepath.Clean(p.cfg.SonaStateDir)
		}
		mem = memory.New(id, dir, p.cfg.SonaPersistInterval, p.log)
	}

	w := &worker{
		id:         id,
		engine:     p.buildEngine(id),
		memory:     mem,
		taskCh:     make(chan *task.Task),
		stopCh:     make(chan struct{}),
		lastUsedAt: time.Now(),
		createdAt:  time.Now(),
	}
	p.workers = append(p.workers, w)
	p.wg.Add(1)
	go p.runWorker(w)
	return w
}

// removeWorkerLocked stops and drops a worker, flushing its Pattern Memory
// first. Caller must hold p.mu.
func (p *Pool) removeWorkerLocked(w *worker) {
	for i, ww := range p.workers {
		if ww == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	close(w.stopCh)
	if w.memory != nil {
		w.memory.Flush()
	}
}

// Submit admits req into the queue, or rejects it if the queue is already
// at cfg.QueueMaxLength (spec.md §4.1 "Queue admission").
func (p *Pool) Submit(parent context.Context, req task.GenerateRequest) (*task.Task, error) {
	p.mu.Lock()

	if p.stopped {
		p.mu.Unlock()
		return nil, coreerr.New(coreerr.Cancelled, "pool is shutting down")
	}

	if len(p.queue) >= p.cfg.QueueMaxLength {
		p.rejectedCount++
		retryMs := p.cfg.TaskTimeoutMs / 4
		p.mu.Unlock()
		return nil, coreerr.New(coreerr.QueueOverflow,
			fmt.Sprintf("task queue is full, retry in approximately %dms", retryMs))
	}

	timeoutMs := p.effectiveTimeoutMs(req)
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	p.nextID++
	id := p.nextID
	t := task.New(id, req, parent, deadline)

	p.registry[id] = t
	p.order = append(p.order, id)
	p.queue = append(p.queue, t)
	p.submitted++

	// Arm the admit-time deadline timer independently of dispatch: a task
	// that never reaches a worker (stuck behind a full queue) must still
	// settle as Timeout at T+ε (spec.md §4.1 "On admit, a timer is armed").
	p.timeouts[id] = time.AfterFunc(time.Until(deadline), func() { p.fireTimeout(id, t, timeoutMs) })

	// Auto-scale-up on admission (spec.md §4.1): more queued work than
	// workers, and there is still room to grow.
	if len(p.queue) > len(p.workers) && len(p.workers) < p.cfg.MaxWorkers {
		p.spawnWorkerLocked()
	}

	p.mu.Unlock()
	p.cond.Broadcast()
	return t, nil
}

// effectiveTimeoutMs resolves the per-task deadline req actually admits
// under: its own override if set, otherwise the pool's configured default
// (spec.md §7 "tagged with the effective timeout in ms").
func (p *Pool) effectiveTimeoutMs(req task.GenerateRequest) int {
	if req.TimeoutMs > 0 {
		return req.TimeoutMs
	}
	return p.cfg.TaskTimeoutMs
}

// fireTimeout is the admit-time timer's callback. It settles t as Timeout
// regardless of whether any worker ever picked it up, and is a safe no-op if
// the task already settled by some other path (the settled latch wins).
func (p *Pool) fireTimeout(id int64, t *task.Task, timeoutMs int) {
	t.Cancel()
	settledHere := t.Settle(task.StatusTimedOut, task.Result{
		WorkerID: t.View().WorkerID,
		Err:      coreerr.New(coreerr.Timeout, fmt.Sprintf("task exceeded its %dms deadline", timeoutMs)),
	})

	p.mu.Lock()
	delete(p.timeouts, id)
	if settledHere {
		p.timedOutCount++
		p.cancelledCount++
	}
	p.mu.Unlock()
}

// clearTimeout stops and forgets id's admit-time timer once the task has
// settled some other way, so it doesn't needlessly fire later.
func (p *Pool) clearTimeout(id int64) {
	p.mu.Lock()
	timer := p.timeouts[id]
	delete(p.timeouts, id)
	p.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// dispatchLoop assigns queued tasks to idle workers, preferring the idle
// worker that has been idle longest (LRU), spawning new workers when the
// queue is backed up and none are idle, and waiting otherwise.
func (p *Pool) dispatchLoop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.stopped {
			return
		}
		if len(p.queue) == 0 {
			p.cond.Wait()
			continue
		}
		w := p.pickIdleWorkerLocked()
		if w == nil {
			if len(p.workers) < p.cfg.MaxWorkers {
				p.spawnWorkerLocked()
			}
			p.cond.Wait()
			continue
		}

		t := p.queue[0]
		p.queue = p.queue[1:]
		w.busy = true

		p.mu.Unlock()
		select {
		case w.taskCh <- t:
		case <-w.stopCh:
			// worker was scaled down between selection and send; requeue.
			p.mu.Lock()
			w.busy = false
			p.queue = append([]*task.Task{t}, p.queue...)
			continue
		}
		p.mu.Lock()
	}
}

// pickIdleWorkerLocked returns the idle worker with the oldest lastUsedAt,
// or nil if every worker is busy. Caller must hold p.mu.
func (p *Pool) pickIdleWorkerLocked() *worker {
	var best *worker
	for _, w := range p.workers {
		if w.busy {
			continue
		}
		if best == nil || w.lastUsedAt.Before(best.lastUsedAt) {
			best = w
		}
	}
	return best
}

// runWorker is the per-worker goroutine: pull an assignment, execute it,
// mark idle, repeat until stopCh closes.
func (p *Pool) runWorker(w *worker) {
	defer p.wg.Done()
	for {
		select {
		case t, ok := <-w.taskCh:
			if !ok {
				return
			}
			p.execute(w, t)
			p.mu.Lock()
			w.busy = false
			w.lastUsedAt = time.Now()
			p.mu.Unlock()
			p.cond.Broadcast()
		case <-w.stopCh:
			return
		}
	}
}

// execute runs one task to settlement on behalf of w.
func (p *Pool) execute(w *worker, t *task.Task) {
	if !t.MarkStarted(w.id) {
		// Already settled by CancelTasks or the admit-time timer while still
		// queued — that settlement already bumped the relevant counters, so
		// there is nothing left to record here.
		return
	}

	req := t.Request
	instruction := req.Instruction
	if w.memory != nil {
		instruction = w.memory.RewriteInstruction(string(req.TaskType), req.Language, instruction)
	}

	prompt := engine.BuildPrompt(engine.PromptInput{
		TaskType:    string(req.TaskType),
		Language:    req.Language,
		FilePath:    req.FilePath,
		Instruction: instruction,
		Context:     req.Context,
	})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = p.cfg.Temperature
	}

	start := time.Now()
	result, err := w.engine.Generate(t.Context(), prompt, engine.GenerateParams{
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	latency := time.Since(start).Milliseconds()

	var status task.Status
	var res task.Result
	success := err == nil

	switch {
	case err == nil:
		status = task.StatusCompleted
		res = task.Result{
			Output:    result.Output.Text,
			WorkerID:  w.id,
			Backend:   string(result.Backend),
			Model:     result.Output.Model,
			LatencyMs: latency,
		}
	case t.Context().Err() == context.DeadlineExceeded:
		status = task.StatusTimedOut
		timeoutMs := p.effectiveTimeoutMs(req)
		res = task.Result{WorkerID: w.id, LatencyMs: latency, Err: coreerr.New(coreerr.Timeout, fmt.Sprintf("task exceeded its %dms deadline", timeoutMs))}
	case t.Context().Err() == context.Canceled:
		status = task.StatusCancelled
		res = task.Result{WorkerID: w.id, LatencyMs: latency, Err: coreerr.New(coreerr.Cancelled, "task was cancelled")}
	default:
		status = task.StatusFailed
		res = task.Result{WorkerID: w.id, LatencyMs: latency, Err: coreerr.Wrap(coreerr.BackendError, "generation failed", err)}
	}

	if !t.Settle(status, res) {
		// CancelTasks or the admit-time timer force-settled this task while
		// the engine call was still in flight. That settlement already owns
		// the counters and provenance; recording this goroutine's own
		// outcome on top would double-count and feed Pattern Memory a
		// result that lost.
		return
	}
	p.clearTimeout(t.ID)

	if w.memory != nil {
		w.memory.RecordOutcome(memory.Interaction{
			TaskType:         string(req.TaskType),
			Language:         req.Language,
			FilePath:         req.FilePath,
			Instruction:      req.Instruction,
			Response:         res.Output,
			Success:          success,
			LatencyMs:        latency,
			PromptTokens:     result.Output.PromptTokens,
			CompletionTokens: result.Output.CompletionTokens,
		})
	}

	p.mu.Lock()
	switch status {
	case task.StatusCompleted:
		w.completed++
		p.completedCount++
	case task.StatusFailed:
		w.failed++
		p.failedCount++
	case task.StatusTimedOut:
		// spec.md §4.1: a timeout increments both timedOut and cancelled —
		// the task never produced a usable result either way.
		w.timedOut++
		w.cancelled++
		p.timedOutCount++
		p.cancelledCount++
	case task.StatusCancelled:
		w.cancelled++
		p.cancelledCount++
	}
	p.mu.Unlock()
}

// heartbeatLoop scales idle workers down to cfg.MinWorkers every
// heartbeatInterval (spec.md §4.1 "Auto-scale-down").
func (p *Pool) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.scaleDownIdle()
		case <-p.stopHeart:
			return
		}
	}
}

func (p *Pool) scaleDownIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for len(p.workers) > p.cfg.MinWorkers {
		var victim *worker
		for _, w := range p.workers {
			if w.busy {
				continue
			}
			if now.Sub(w.lastUsedAt) < idleScaleDownAfter {
				continue
			}
			if victim == nil || w.lastUsedAt.Before(victim.lastUsedAt) {
				victim = w
			}
		}
		if victim == nil {
			return
		}
		p.removeWorkerLocked(victim)
	}
}

// Scale resizes the worker count to target, clamped to the pool's already-
// configured [minWorkers, maxWorkers] bounds — it never rewrites those
// bounds itself (spec.md §4.1 "operator-directed resize clamped to
// [minWorkers, maxWorkers]"). Only idle workers are ever removed; running
// tasks are never aborted.
func (p *Pool) Scale(target int) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if target < p.cfg.MinWorkers {
		target = p.cfg.MinWorkers
	}
	if target > p.cfg.MaxWorkers {
		target = p.cfg.MaxWorkers
	}

	for len(p.workers) < target {
		p.spawnWorkerLocked()
	}
	for len(p.workers) > target {
		idle := p.pickIdleWorkerLocked()
		if idle == nil {
			break
		}
		p.removeWorkerLocked(idle)
	}
	p.cond.Broadcast()
	return p.snapshotStatusLocked(time.Now())
}

// Status returns a point-in-time snapshot for ruvltra_status.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotStatusLocked(time.Now())
}

// SonaStats returns every worker's Pattern Memory statistics for
// ruvltra_sona_stats.
func (p *Pool) SonaStats() []memory.Stats {
	p.mu.Lock()
	workers := append([]*worker(nil), p.workers...)
	p.mu.Unlock()

	stats := make([]memory.Stats, 0, len(workers))
	for _, w := range workers {
		if w.memory == nil {
			continue
		}
		stats = append(stats, w.memory.Stats())
	}
	return stats
}

// Lookup returns the task registered under id, or nil.
func (p *Pool) Lookup(id int64) *task.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry[id]
}

// CancelTasks cancels every registered task matching ids (all tasks if ids
// is empty) and returns the count actually cancelled — grounded on the
// teacher's TaskStore.Cancel/SetCancelled.
func (p *Pool) CancelTasks(ids []int64) int {
	p.mu.Lock()
	var targets []*task.Task
	if len(ids) == 0 {
		for _, id := range p.order {
			targets = append(targets, p.registry[id])
		}
	} else {
		for _, id := range ids {
			if t, ok := p.registry[id]; ok {
				targets = append(targets, t)
			}
		}
	}
	p.mu.Unlock()

	count := 0
	for _, t := range targets {
		if t.Settled() {
			continue
		}
		t.Cancel()
		if t.Settle(task.StatusCancelled, task.Result{Err: coreerr.New(coreerr.Cancelled, "cancelled by request")}) {
			p.clearTimeout(t.ID)
			count++
			p.mu.Lock()
			p.cancelledCount++
			p.mu.Unlock()
		}
	}
	return count
}

// Shutdown stops accepting new work, cancels and settles every pending and
// running task as Cancelled, signals every worker to stop, flushes every
// worker's Pattern Memory, and waits for their goroutines to exit (spec.md
// §4.1 "Shutdown cancels all pending and running tasks with Cancelled").
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	close(p.stopHeart)
	workers := append([]*worker(nil), p.workers...)
	p.workers = nil
	timers := p.timeouts
	p.timeouts = make(map[int64]*time.Timer)
	targets := make([]*task.Task, 0, len(p.registry))
	for _, id := range p.order {
		targets = append(targets, p.registry[id])
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, timer := range timers {
		timer.Stop()
	}

	// Cancelling here trips the context a still-running execute() is
	// blocked on inside engine.Generate, so its own Settle call lands
	// Cancelled rather than Completed; queued tasks that never reached a
	// worker settle directly here since dispatchLoop just exited on
	// p.stopped and nothing else will ever settle them.
	for _, t := range targets {
		if t.Settled() {
			continue
		}
		t.Cancel()
		if t.Settle(task.StatusCancelled, task.Result{Err: coreerr.New(coreerr.Cancelled, "pool is shutting down")}) {
			p.mu.Lock()
			p.cancelledCount++
			p.mu.Unlock()
		}
	}

	for _, w := range workers {
		close(w.stopCh)
		if w.memory != nil {
			w.memory.Flush()
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

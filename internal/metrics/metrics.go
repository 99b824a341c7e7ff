// Package metrics wires pool/engine activity into a Prometheus registry
// served on an optional listener separate from the stdio JSON-RPC stream
// (spec.md's Non-goals exclude a metrics *protocol surface*, not
// observability as an ambient concern — see SPEC_FULL.md §10).
//
// Grounded on theRebelliousNerd-codenerd's use of
// github.com/prometheus/client_golang for its own service metrics; this is
// the only metrics library anywhere in the retrieval pack.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ruvltra/ruvltra-core/internal/pool"
)

// Registry owns every metric this process exports and the pool it polls.
type Registry struct {
	reg *prometheus.Registry

	queueLength    prometheus.Gauge
	workerCount    prometheus.Gauge
	tasksSubmitted prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksTimedOut  prometheus.Counter
	tasksCancelled prometheus.Counter
	tasksRejected  prometheus.Counter

	prev pool.Status // last-polled cumulative counters, for computing deltas
}

// New builds a Registry with every metric registered.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.queueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ruvltra_queue_length", Help: "Current number of tasks waiting in the pool queue.",
	})
	r.workerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ruvltra_worker_count", Help: "Current number of live workers.",
	})
	r.tasksSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ruvltra_tasks_submitted_total", Help: "Total tasks admitted to the pool.",
	})
	r.tasksCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ruvltra_tasks_completed_total", Help: "Total tasks that completed successfully.",
	})
	r.tasksFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ruvltra_tasks_failed_total", Help: "Total tasks that failed.",
	})
	r.tasksTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ruvltra_tasks_timed_out_total", Help: "Total tasks that exceeded their deadline.",
	})
	r.tasksCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ruvltra_tasks_cancelled_total", Help: "Total tasks cancelled before settling.",
	})
	r.tasksRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ruvltra_tasks_rejected_total", Help: "Total tasks rejected at admission due to queue backpressure.",
	})

	r.reg.MustRegister(
		r.queueLength, r.workerCount,
		r.tasksSubmitted, r.tasksCompleted, r.tasksFailed, r.tasksTimedOut, r.tasksCancelled, r.tasksRejected,
	)
	return r
}

// poll mirrors the pool's instantaneous gauges directly and adds the delta
// since the last poll to each cumulative counter (prometheus.Counter only
// exposes Add, never Set, so the pool's running totals are diffed here).
func (r *Registry) poll(st pool.Status) {
	r.queueLength.Set(float64(st.QueueLength))
	r.workerCount.Set(float64(len(st.Workers)))

	addDelta(r.tasksSubmitted, st.Submitted, r.prev.Submitted)
	addDelta(r.tasksCompleted, st.Completed, r.prev.Completed)
	addDelta(r.tasksFailed, st.Failed, r.prev.Failed)
	addDelta(r.tasksTimedOut, st.TimedOut, r.prev.TimedOut)
	addDelta(r.tasksCancelled, st.Cancelled, r.prev.Cancelled)
	addDelta(r.tasksRejected, st.Rejected, r.prev.Rejected)

	r.prev = st
}

func addDelta(c prometheus.Counter, current, previous int64) {
	if delta := current - previous; delta > 0 {
		c.Add(float64(delta))
	}
}

// Run starts polling p every pollInterval and serves /metrics on addr until
// ctx is cancelled. If addr is empty, Run is a no-op — metrics stay
// registered but unserved, matching spec.md's "metrics are opt-in".
func (r *Registry) Run(ctx context.Context, addr string, p *pool.Pool, log *zap.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.poll(p.Status())
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		if log != nil {
			log.Error("metrics listener failed", zap.Error(err))
		}
		return err
	}
}

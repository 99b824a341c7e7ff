package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ruvltra/ruvltra-core/internal/config"
	"github.com/ruvltra/ruvltra-core/internal/task"
)

func testConfig() config.Config {
	c := config.Default()
	c.MinWorkers = 1
	c.MaxWorkers = 3
	c.InitialWorkers = 1
	c.QueueMaxLength = 4
	c.SonaEnabled = false
	c.MockLatencyMs = 10
	c.TaskTimeoutMs = 2000
	return c
}

func waitSettled(t *testing.T, tk *task.Task, timeout time.Duration) task.Snapshot {
	select {
	case <-tk.Done():
	case <-time.After(timeout):
		t.Fatalf("task %d did not settle within %s", tk.ID, timeout)
	}
	return tk.View()
}

func TestSubmitFallsBackToMock(t *testing.T) {
	p := New(testConfig(), nil)
	defer p.Shutdown(context.Background())

	tk, err := p.Submit(context.Background(), task.GenerateRequest{
		TaskType:    task.TypeGenerate,
		Instruction: "write a function",
		Temperature: -1,
	})
	require.NoError(t, err)

	snap := waitSettled(t, tk, 2*time.Second)
	require.Equal(t, task.StatusCompleted, snap.Status)
	require.Equal(t, "mock", snap.Result.Backend)
}

func TestQueueBackpressureRejects(t *testing.T) {
	cfg := testConfig()
	cfg.QueueMaxLength = 1
	cfg.MinWorkers = 1
	cfg.MaxWorkers = 1
	cfg.InitialWorkers = 1
	cfg.MockLatencyMs = 500
	p := New(cfg, nil)
	defer p.Shutdown(context.Background())

	// Occupy the only worker, then give the dispatcher time to actually
	// hand it the task before measuring queue capacity.
	_, err := p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "a"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "b"})
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "c"})
	require.Error(t, err)
}

func TestSettlementIsIdempotent(t *testing.T) {
	p := New(testConfig(), nil)
	defer p.Shutdown(context.Background())

	tk, err := p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "x"})
	require.NoError(t, err)
	waitSettled(t, tk, 2*time.Second)

	require.False(t, tk.Settle(task.StatusFailed, task.Result{}))
}

func TestCancelTasksMarksCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.MockLatencyMs = 2000
	p := New(cfg, nil)
	defer p.Shutdown(context.Background())

	tk, err := p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "slow"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	n := p.CancelTasks([]int64{tk.ID})
	require.Equal(t, 1, n)

	snap := waitSettled(t, tk, 2*time.Second)
	require.Equal(t, task.StatusCancelled, snap.Status)
}

func TestTaskTimeoutPrecision(t *testing.T) {
	cfg := testConfig()
	cfg.MockLatencyMs = 500
	p := New(cfg, nil)
	defer p.Shutdown(context.Background())

	tk, err := p.Submit(context.Background(), task.GenerateRequest{
		TaskType:    task.TypeGenerate,
		Instruction: "slow",
		TimeoutMs:   50,
	})
	require.NoError(t, err)

	snap := waitSettled(t, tk, 2*time.Second)
	require.Equal(t, task.StatusTimedOut, snap.Status)

	st := p.Status()
	require.Equal(t, int64(1), st.TimedOut)
	require.Equal(t, int64(1), st.Cancelled, "a timeout must also count as a cancellation")
}

func TestAdmitTimeTimerSettlesQueuedTask(t *testing.T) {
	cfg := testConfig()
	cfg.MinWorkers = 1
	cfg.MaxWorkers = 1
	cfg.InitialWorkers = 1
	cfg.QueueMaxLength = 4
	cfg.MockLatencyMs = 2000
	p := New(cfg, nil)
	defer p.Shutdown(context.Background())

	// Occupy the sole worker with a slow task so the second task sits queued
	// for the entirety of its own, much shorter deadline.
	_, err := p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "slow"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	queued, err := p.Submit(context.Background(), task.GenerateRequest{
		TaskType:    task.TypeGenerate,
		Instruction: "queued",
		TimeoutMs:   50,
	})
	require.NoError(t, err)

	snap := waitSettled(t, queued, time.Second)
	require.Equal(t, task.StatusTimedOut, snap.Status, "a task stuck in queue must still settle at its deadline")
}

func TestAutoScaleUpOnAdmission(t *testing.T) {
	cfg := testConfig()
	cfg.MinWorkers = 1
	cfg.InitialWorkers = 1
	cfg.MaxWorkers = 3
	cfg.MockLatencyMs = 300
	p := New(cfg, nil)
	defer p.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		_, err := p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "a"})
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)
	st := p.Status()
	require.Greater(t, len(st.Workers), 1)
}

func TestScaleClampsToConfiguredBounds(t *testing.T) {
	p := New(testConfig(), nil) // MinWorkers=1, MaxWorkers=3, InitialWorkers=1
	defer p.Shutdown(context.Background())

	st := p.Scale(2)
	require.Equal(t, 1, st.MinWorkers, "Scale must not rewrite the configured bounds")
	require.Equal(t, 3, st.MaxWorkers)
	require.Equal(t, 2, len(st.Workers))

	st = p.Scale(10)
	require.Equal(t, 3, len(st.Workers), "target above maxWorkers clamps down to maxWorkers")

	st = p.Scale(0)
	require.Equal(t, 1, len(st.Workers), "target below minWorkers clamps up to minWorkers")
}

func TestShutdownSettlesQueuedAndRunningTasks(t *testing.T) {
	cfg := testConfig()
	cfg.MinWorkers = 1
	cfg.MaxWorkers = 1
	cfg.InitialWorkers = 1
	cfg.QueueMaxLength = 4
	cfg.MockLatencyMs = 2000
	cfg.TaskTimeoutMs = 60000
	p := New(cfg, nil)

	running, err := p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "running"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	queued, err := p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "queued"})
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background()))

	runningSnap := waitSettled(t, running, time.Second)
	require.Equal(t, task.StatusCancelled, runningSnap.Status, "a running task must settle Cancelled on shutdown, not Completed")

	queuedSnap := waitSettled(t, queued, time.Second)
	require.Equal(t, task.StatusCancelled, queuedSnap.Status, "a queued task must settle Cancelled on shutdown, not hang forever")
}

func TestFanOutIndependence(t *testing.T) {
	cfg := testConfig()
	cfg.MinWorkers = 2
	cfg.InitialWorkers = 2
	cfg.MaxWorkers = 2
	cfg.MockLatencyMs = 50
	p := New(cfg, nil)
	defer p.Shutdown(context.Background())

	var tasks []*task.Task
	for i := 0; i < 2; i++ {
		tk, err := p.Submit(context.Background(), task.GenerateRequest{TaskType: task.TypeGenerate, Instruction: "a"})
		require.NoError(t, err)
		tasks = append(tasks, tk)
	}
	for _, tk := range tasks {
		snap := waitSettled(t, tk, 2*time.Second)
		require.Equal(t, task.StatusCompleted, snap.Status)
	}
}

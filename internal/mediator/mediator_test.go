package mediator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ruvltra/ruvltra-core/internal/config"
	"github.com/ruvltra/ruvltra-core/internal/pool"
)

func testMediator(t *testing.T) *Mediator {
	cfg := config.Default()
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 4
	cfg.InitialWorkers = 2
	cfg.SonaEnabled = false
	cfg.MockLatencyMs = 5
	cfg.TaskTimeoutMs = 2000
	p := pool.New(cfg, nil)
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return New(p, nil)
}

func TestCodeGenerateRejectsEmptyInstruction(t *testing.T) {
	m := testMediator(t)
	_, err := m.CodeGenerate(context.Background(), GenerateArgs{})
	require.Error(t, err)
}

func TestCodeGenerateHappyPath(t *testing.T) {
	m := testMediator(t)
	out, err := m.CodeGenerate(context.Background(), GenerateArgs{Instruction: "write a hello world"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Output)
	require.NotZero(t, out.TaskID)
	require.NotEmpty(t, out.Backend)
}

func TestCodeTranslateRequiresTargetLanguage(t *testing.T) {
	m := testMediator(t)
	_, err := m.CodeTranslate(context.Background(), GenerateArgs{Instruction: "translate this"})
	require.Error(t, err)

	out, err := m.CodeTranslate(context.Background(), GenerateArgs{Instruction: "translate this", TargetLanguage: "rust"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Translated)
}

func TestCodeReviewUsesReviewKey(t *testing.T) {
	m := testMediator(t)
	out, err := m.CodeReview(context.Background(), GenerateArgs{Instruction: "review this", Code: "package main"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Review)
	require.NotEmpty(t, out.WorkerID)
	require.NotEmpty(t, out.Backend)
}

func TestParallelGenerateIndependence(t *testing.T) {
	m := testMediator(t)
	out, err := m.ParallelGenerate(context.Background(), ParallelGenerateArgs{
		Requests: []ParallelTaskArgs{
			{Instruction: "one"},
			{Instruction: ""}, // invalid, must not sink the batch
			{Instruction: "three", TaskType: "review", Context: "package main"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, out.TotalTasks)
	require.GreaterOrEqual(t, out.TotalLatencyMs, int64(0))
	require.Len(t, out.Results, 3)
	require.NotEmpty(t, out.Results[0].Output)
	require.NotEmpty(t, out.Results[1].Error)
	require.NotEmpty(t, out.Results[2].Output)
}

func TestSwarmReviewRunsDefaultPanel(t *testing.T) {
	m := testMediator(t)
	out, err := m.SwarmReview(context.Background(), SwarmReviewArgs{Code: "package main"})
	require.NoError(t, err)
	require.Equal(t, defaultPerspectives, out.Perspectives)
	require.Len(t, out.Reviews, len(defaultPerspectives))
	require.GreaterOrEqual(t, out.TotalLatencyMs, int64(0))
	for _, r := range out.Reviews {
		require.NotEmpty(t, r.Perspective)
		require.NotEmpty(t, r.Output)
	}
}

func TestSwarmReviewCapsPerspectives(t *testing.T) {
	m := testMediator(t)
	persp := make([]string, 10)
	for i := range persp {
		persp[i] = "angle"
	}
	out, err := m.SwarmReview(context.Background(), SwarmReviewArgs{Code: "package main", Perspectives: persp})
	require.NoError(t, err)
	require.Len(t, out.Perspectives, maxSwarmPerspectives)
	require.Len(t, out.Reviews, maxSwarmPerspectives)
}

func TestStatusAndSonaStats(t *testing.T) {
	m := testMediator(t)
	_, err := m.CodeGenerate(context.Background(), GenerateArgs{Instruction: "x"})
	require.NoError(t, err)

	st, err := m.Status(context.Background(), StatusArgs{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(st.Workers), 2)

	sona, err := m.SonaStats(context.Background(), SonaStatsArgs{})
	require.NoError(t, err)
	require.Empty(t, sona.Workers) // SonaEnabled=false in testMediator
}

func TestScaleWorkersClampsToConfiguredBounds(t *testing.T) {
	m := testMediator(t) // MinWorkers=2, MaxWorkers=4

	out, err := m.ScaleWorkers(context.Background(), ScaleWorkersArgs{Target: 1})
	require.NoError(t, err)
	require.Equal(t, 2, out.MinWorkers, "bounds must not be rewritten")
	require.Equal(t, 4, out.MaxWorkers)
	require.Len(t, out.Workers, 2, "target below minWorkers clamps up to minWorkers")

	out, err = m.ScaleWorkers(context.Background(), ScaleWorkersArgs{Target: 10})
	require.NoError(t, err)
	require.Len(t, out.Workers, 4, "target above maxWorkers clamps down to maxWorkers")
}

func TestCancelTasksViaMediator(t *testing.T) {
	cfg := config.Default()
	cfg.MinWorkers = 1
	cfg.MaxWorkers = 1
	cfg.InitialWorkers = 1
	cfg.SonaEnabled = false
	cfg.MockLatencyMs = 1000
	p := pool.New(cfg, nil)
	defer p.Shutdown(context.Background())
	m := New(p, nil)

	go func() {
		_, _ = m.CodeGenerate(context.Background(), GenerateArgs{Instruction: "slow"})
	}()
	time.Sleep(30 * time.Millisecond)

	out, err := m.CancelTasks(context.Background(), CancelTasksArgs{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, out.Cancelled, 1)
}

// Package mediator is the Tool Mediator: it validates tool arguments,
// composes the instruction text each generation type sends to the Engine,
// submits normalized requests to the Pool, fans concurrent tools out with
// golang.org/x/sync/errgroup, and shapes every result into the provenance
// envelope spec.md §4.4 defines.
//
// Grounded on the teacher's tool-handler-per-file layout (cancel_tasks.go,
// model_info.go): one small, named type per tool's wire shape, kept in
// tools.go; this file holds the behavior all of those types share.
package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ruvltra/ruvltra-core/internal/coreerr"
	"github.com/ruvltra/ruvltra-core/internal/pool"
	"github.com/ruvltra/ruvltra-core/internal/task"
)

// defaultPerspectives is the fixed review panel ruvltra_swarm_review runs
// when the caller does not supply its own.
var defaultPerspectives = []string{"security", "performance", "quality", "maintainability"}

// maxSwarmPerspectives caps how many perspectives a single swarm review
// runs, caller-supplied or not.
const maxSwarmPerspectives = 8

// instructionTemplates are the fixed wrappers spec.md §4.4 "Instruction
// composition" prescribes for each task type; %s is the caller's raw
// instruction.
var instructionTemplates = map[task.Type]string{
	task.TypeGenerate: "Generate code that satisfies the following instruction.\n\n%s",
	task.TypeReview:   "Review the following code and report any issues found.\n\n%s",
	task.TypeRefactor: "Refactor the following code per the instruction, preserving existing behavior.\n\n%s",
	task.TypeExplain:  "Explain what the following code does.\n\n%s",
	task.TypeTest:     "Write tests for the following code per the instruction.\n\n%s",
	task.TypeFix:      "Fix the problem described below in the following code.\n\n%s",
	task.TypeComplete: "Complete the following code per the instruction.\n\n%s",
}

// Mediator coordinates the Pool on behalf of every ruvltra_* tool.
type Mediator struct {
	pool *pool.Pool
	log  *zap.Logger
}

// New builds a Mediator over an already-running Pool.
func New(p *pool.Pool, log *zap.Logger) *Mediator {
	return &Mediator{pool: p, log: log}
}

// generateParams is the normalized shape runGenerate works from. Both
// GenerateArgs (the single-purpose tools' "code" field) and ParallelTaskArgs
// (ruvltra_parallel_generate's "context" field) convert into it, so the two
// distinct wire shapes spec.md §6 requires share one execution path.
type generateParams struct {
	Instruction    string
	Code           string
	Language       string
	FilePath       string
	TargetLanguage string
	MaxTokens      int
	Temperature    float64
	TimeoutMs      int
}

func (a GenerateArgs) params() generateParams {
	return generateParams{
		Instruction:    a.Instruction,
		Code:           a.Code,
		Language:       a.Language,
		FilePath:       a.FilePath,
		TargetLanguage: a.TargetLanguage,
		MaxTokens:      a.MaxTokens,
		Temperature:    a.Temperature,
		TimeoutMs:      a.TimeoutMs,
	}
}

func (a ParallelTaskArgs) params() generateParams {
	return generateParams{
		Instruction:    a.Instruction,
		Code:           a.Context,
		Language:       a.Language,
		FilePath:       a.FilePath,
		TargetLanguage: a.TargetLanguage,
		MaxTokens:      a.MaxTokens,
		Temperature:    a.Temperature,
		TimeoutMs:      a.TimeoutMs,
	}
}

// generateResult is runGenerate's internal, unexported result. Each public
// tool method shapes it into its own result key (spec.md §4.4 "extracts the
// per-tool shape of the result").
type generateResult struct {
	Output    string
	WorkerID  string
	Backend   string
	Model     string
	LatencyMs int64
	TaskID    int64
}

// composeInstruction renders the fixed template for taskType around the
// caller's instruction. translate additionally bakes in TargetLanguage.
func composeInstruction(taskType task.Type, p generateParams) (string, error) {
	if taskType == task.TypeTranslate {
		if p.TargetLanguage == "" {
			return "", coreerr.New(coreerr.InvalidArgument, "targetLanguage is required for translate")
		}
		return fmt.Sprintf("Translate the following code into %s.\n\n%s", p.TargetLanguage, p.Instruction), nil
	}
	tmpl, ok := instructionTemplates[taskType]
	if !ok {
		return "", coreerr.New(coreerr.InvalidArgument, "unsupported task type: "+string(taskType))
	}
	return fmt.Sprintf(tmpl, p.Instruction), nil
}

// runGenerate validates params, submits one task of taskType, and waits for
// it to settle.
func (m *Mediator) runGenerate(ctx context.Context, taskType task.Type, p generateParams) (generateResult, error) {
	if p.Instruction == "" {
		return generateResult{}, coreerr.New(coreerr.InvalidArgument, "instruction must not be empty")
	}
	instruction, err := composeInstruction(taskType, p)
	if err != nil {
		return generateResult{}, err
	}

	t, err := m.pool.Submit(ctx, task.GenerateRequest{
		TaskType:    taskType,
		Instruction: instruction,
		Context:     p.Code,
		Language:    p.Language,
		FilePath:    p.FilePath,
		MaxTokens:   p.MaxTokens,
		Temperature: temperatureOrDefault(p.Temperature),
		TimeoutMs:   p.TimeoutMs,
	})
	if err != nil {
		return generateResult{}, err
	}

	return m.await(ctx, t)
}

// temperatureOrDefault maps an unset (zero-value) temperature to the pool's
// "use server default" sentinel (negative), since 0.0 is itself a valid,
// deliberately-deterministic temperature a caller might request.
func temperatureOrDefault(t float64) float64 {
	if t == 0 {
		return -1
	}
	return t
}

// await blocks until t settles or ctx is cancelled first, in which case the
// task is cancelled too.
func (m *Mediator) await(ctx context.Context, t *task.Task) (generateResult, error) {
	select {
	case <-t.Done():
	case <-ctx.Done():
		t.Cancel()
		<-t.Done()
	}

	snap := t.View()
	out := generateResult{
		Output:    snap.Result.Output,
		WorkerID:  snap.Result.WorkerID,
		Backend:   snap.Result.Backend,
		Model:     snap.Result.Model,
		LatencyMs: snap.Result.LatencyMs,
		TaskID:    snap.ID,
	}
	if snap.Status != task.StatusCompleted {
		return out, snap.Result.Err
	}
	return out, nil
}

// The eight single-purpose generation tools. Each fixes its own task type,
// shares runGenerate/await, and shapes the shared generateResult into its
// own result key (spec.md §6).

func (m *Mediator) CodeGenerate(ctx context.Context, args GenerateArgs) (GenerateOutput, error) {
	r, err := m.runGenerate(ctx, task.TypeGenerate, args.params())
	return GenerateOutput{
		Output:    r.Output,
		WorkerID:  r.WorkerID,
		Backend:   r.Backend,
		Model:     r.Model,
		LatencyMs: r.LatencyMs,
		TaskID:    r.TaskID,
	}, err
}

func (m *Mediator) CodeReview(ctx context.Context, args GenerateArgs) (ReviewOutput, error) {
	r, err := m.runGenerate(ctx, task.TypeReview, args.params())
	return ReviewOutput{Review: r.Output, WorkerID: r.WorkerID, Backend: r.Backend, LatencyMs: r.LatencyMs}, err
}

func (m *Mediator) CodeRefactor(ctx context.Context, args GenerateArgs) (RefactorOutput, error) {
	r, err := m.runGenerate(ctx, task.TypeRefactor, args.params())
	return RefactorOutput{Refactored: r.Output, WorkerID: r.WorkerID, Backend: r.Backend, LatencyMs: r.LatencyMs}, err
}

func (m *Mediator) CodeExplain(ctx context.Context, args GenerateArgs) (ExplainOutput, error) {
	r, err := m.runGenerate(ctx, task.TypeExplain, args.params())
	return ExplainOutput{Explanation: r.Output, WorkerID: r.WorkerID, Backend: r.Backend, LatencyMs: r.LatencyMs}, err
}

func (m *Mediator) CodeTest(ctx context.Context, args GenerateArgs) (TestOutput, error) {
	r, err := m.runGenerate(ctx, task.TypeTest, args.params())
	return TestOutput{Tests: r.Output, WorkerID: r.WorkerID, Backend: r.Backend, LatencyMs: r.LatencyMs}, err
}

func (m *Mediator) CodeFix(ctx context.Context, args GenerateArgs) (FixOutput, error) {
	r, err := m.runGenerate(ctx, task.TypeFix, args.params())
	return FixOutput{Fix: r.Output, WorkerID: r.WorkerID, Backend: r.Backend, LatencyMs: r.LatencyMs}, err
}

func (m *Mediator) CodeComplete(ctx context.Context, args GenerateArgs) (CompleteOutput, error) {
	r, err := m.runGenerate(ctx, task.TypeComplete, args.params())
	return CompleteOutput{Completion: r.Output, WorkerID: r.WorkerID, Backend: r.Backend, LatencyMs: r.LatencyMs}, err
}

func (m *Mediator) CodeTranslate(ctx context.Context, args GenerateArgs) (TranslateOutput, error) {
	r, err := m.runGenerate(ctx, task.TypeTranslate, args.params())
	return TranslateOutput{Translated: r.Output, WorkerID: r.WorkerID, Backend: r.Backend, LatencyMs: r.LatencyMs}, err
}

// ParallelGenerate fans every request out concurrently and waits for all of
// them, independent of one another's outcome (spec.md §4.4 "Fan-out
// independence" — one failing request never cancels its siblings).
func (m *Mediator) ParallelGenerate(ctx context.Context, args ParallelGenerateArgs) (ParallelGenerateOutput, error) {
	if len(args.Requests) == 0 {
		return ParallelGenerateOutput{}, coreerr.New(coreerr.InvalidArgument, "requests must not be empty")
	}

	// A zero-value errgroup.Group runs its goroutines with no derived
	// context, so one request's error or cancellation never aborts its
	// siblings (spec.md §4.4 "Fan-out independence").
	var g errgroup.Group
	results := make([]GenerateResultItem, len(args.Requests))
	for i, req := range args.Requests {
		i, req := i, req
		g.Go(func() error {
			taskType := task.Type(req.TaskType)
			if taskType == "" {
				taskType = task.TypeGenerate
			}
			if !taskType.IsValid() {
				results[i] = GenerateResultItem{Error: "invalid taskType: " + string(taskType)}
				return nil
			}
			r, err := m.runGenerate(ctx, taskType, req.params())
			item := GenerateResultItem{ItemID: uuid.NewString(), GenerateOutput: GenerateOutput{
				Output:    r.Output,
				WorkerID:  r.WorkerID,
				Backend:   r.Backend,
				Model:     r.Model,
				LatencyMs: r.LatencyMs,
				TaskID:    r.TaskID,
			}}
			if err != nil {
				item.Error = err.Error()
			}
			results[i] = item
			return nil
		})
	}
	_ = g.Wait()

	var totalLatency int64
	for _, r := range results {
		totalLatency += r.LatencyMs
	}

	return ParallelGenerateOutput{
		TotalTasks:     len(results),
		TotalLatencyMs: totalLatency,
		Results:        results,
	}, nil
}

// SwarmReview runs one review per perspective concurrently over the same
// code, all independent of one another.
func (m *Mediator) SwarmReview(ctx context.Context, args SwarmReviewArgs) (SwarmReviewOutput, error) {
	if args.Code == "" {
		return SwarmReviewOutput{}, coreerr.New(coreerr.InvalidArgument, "code must not be empty")
	}
	perspectives := args.Perspectives
	if len(perspectives) == 0 {
		perspectives = defaultPerspectives
	}
	if len(perspectives) > maxSwarmPerspectives {
		perspectives = perspectives[:maxSwarmPerspectives]
	}

	reviews := make([]SwarmReviewItem, len(perspectives))
	var g errgroup.Group
	for i, persp := range perspectives {
		i, persp := i, persp
		g.Go(func() error {
			r, err := m.runGenerate(ctx, task.TypeReview, generateParams{
				Instruction: fmt.Sprintf("Focus this review specifically on %s.", persp),
				Code:        args.Code,
				Language:    args.Language,
				FilePath:    args.FilePath,
			})
			item := SwarmReviewItem{Perspective: persp, GenerateResultItem: GenerateResultItem{ItemID: uuid.NewString(), GenerateOutput: GenerateOutput{
				Output:    r.Output,
				WorkerID:  r.WorkerID,
				Backend:   r.Backend,
				Model:     r.Model,
				LatencyMs: r.LatencyMs,
				TaskID:    r.TaskID,
			}}}
			if err != nil {
				item.Error = err.Error()
			}
			reviews[i] = item
			return nil
		})
	}
	_ = g.Wait()

	var totalLatency int64
	for _, r := range reviews {
		totalLatency += r.LatencyMs
	}

	return SwarmReviewOutput{
		Perspectives:   perspectives,
		TotalLatencyMs: totalLatency,
		Reviews:        reviews,
	}, nil
}

// Status reports the pool's aggregate snapshot.
func (m *Mediator) Status(_ context.Context, _ StatusArgs) (StatusOutput, error) {
	return m.pool.Status(), nil
}

// SonaStats reports every worker's Pattern Memory statistics.
func (m *Mediator) SonaStats(_ context.Context, _ SonaStatsArgs) (SonaStatsOutput, error) {
	stats := m.pool.SonaStats()
	out := SonaStatsOutput{Workers: make([]WorkerSonaStats, 0, len(stats))}
	for _, s := range stats {
		var last string
		if !s.LastConsolidatedAt.IsZero() {
			last = s.LastConsolidatedAt.UTC().Format(time.RFC3339)
		}
		out.Workers = append(out.Workers, WorkerSonaStats{
			WorkerID:           s.WorkerID,
			Interactions:       s.Interactions,
			Successes:          s.Successes,
			PatternCount:       s.PatternCount,
			Consolidations:     s.Consolidations,
			LastConsolidatedAt: last,
			TopHints:           s.TopHints,
		})
	}
	return out, nil
}

// ScaleWorkers resizes the pool toward args.Target, clamped to its existing
// bounds, and reports the resulting snapshot.
func (m *Mediator) ScaleWorkers(_ context.Context, args ScaleWorkersArgs) (ScaleWorkersOutput, error) {
	return m.pool.Scale(args.Target), nil
}

// CancelTasks cancels specific tasks, or every task still in flight when
// TaskIDs is empty.
func (m *Mediator) CancelTasks(_ context.Context, args CancelTasksArgs) (CancelTasksOutput, error) {
	n := m.pool.CancelTasks(args.TaskIDs)
	return CancelTasksOutput{Cancelled: n}, nil
}

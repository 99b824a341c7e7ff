// tools.go defines the Args/Output Go types for every ruvltra_* tool,
// reflected into JSON Schema by the MCP SDK via jsonschema tags — the same
// idiom as the teacher's cancel_tasks.go/model_info.go (one small file per
// tool's wire shape, doc comment naming the tool it belongs to).
package mediator

import (
	"github.com/ruvltra/ruvltra-core/internal/pool"
)

// GenerateArgs is the input shared by every single-shot generation tool
// (ruvltra_code_generate/review/refactor/explain/test/fix/complete/
// translate). Entries of ruvltra_parallel_generate use ParallelTaskArgs.
type GenerateArgs struct {
	Instruction string `json:"instruction" jsonschema:"What to produce or change"`
	Code        string `json:"code,omitempty" jsonschema:"Existing source code to operate on, if any"`
	Language    string `json:"language,omitempty" jsonschema:"Programming language, e.g. go, python, typescript"`
	FilePath    string `json:"filePath,omitempty" jsonschema:"File path for context, used to infer file type"`

	// TargetLanguage is required by ruvltra_code_translate only.
	TargetLanguage string `json:"targetLanguage,omitempty" jsonschema:"Language to translate the code into"`

	// TaskType is accepted but ignored: each single-purpose tool fixes its
	// own type. ParallelTaskArgs.TaskType selects the type of a
	// ruvltra_parallel_generate entry.
	TaskType string `json:"taskType,omitempty" jsonschema:"One of generate,review,refactor,explain,test,fix,complete,translate"`

	MaxTokens   int     `json:"maxTokens,omitempty" jsonschema:"Maximum tokens to generate, 0 uses the server default"`
	Temperature float64 `json:"temperature,omitempty" jsonschema:"Sampling temperature"`
	TimeoutMs   int     `json:"timeoutMs,omitempty" jsonschema:"Per-task timeout override in milliseconds"`
}

// GenerateOutput is ruvltra_code_generate's result shape: the only
// single-task tool whose envelope carries the served model and task ID
// (spec.md §6 tool table).
type GenerateOutput struct {
	Output    string `json:"output"`
	WorkerID  string `json:"workerId"`
	Backend   string `json:"backend"`
	Model     string `json:"model"`
	LatencyMs int64  `json:"latencyMs"`
	TaskID    int64  `json:"taskId"`
}

// Every other single-task tool returns its own result key alongside the
// shared {workerId, backend, latencyMs} provenance triple (spec.md §6 —
// ruvltra_code_review's row spells this out; the rest follow the same
// shape with their own key).

// ReviewOutput is ruvltra_code_review's result shape.
type ReviewOutput struct {
	Review    string `json:"review"`
	WorkerID  string `json:"workerId"`
	Backend   string `json:"backend"`
	LatencyMs int64  `json:"latencyMs"`
}

// RefactorOutput is ruvltra_code_refactor's result shape.
type RefactorOutput struct {
	Refactored string `json:"refactored"`
	WorkerID   string `json:"workerId"`
	Backend    string `json:"backend"`
	LatencyMs  int64  `json:"latencyMs"`
}

// ExplainOutput is ruvltra_code_explain's result shape.
type ExplainOutput struct {
	Explanation string `json:"explanation"`
	WorkerID    string `json:"workerId"`
	Backend     string `json:"backend"`
	LatencyMs   int64  `json:"latencyMs"`
}

// TestOutput is ruvltra_code_test's result shape.
type TestOutput struct {
	Tests     string `json:"tests"`
	WorkerID  string `json:"workerId"`
	Backend   string `json:"backend"`
	LatencyMs int64  `json:"latencyMs"`
}

// FixOutput is ruvltra_code_fix's result shape.
type FixOutput struct {
	Fix       string `json:"fix"`
	WorkerID  string `json:"workerId"`
	Backend   string `json:"backend"`
	LatencyMs int64  `json:"latencyMs"`
}

// CompleteOutput is ruvltra_code_complete's result shape.
type CompleteOutput struct {
	Completion string `json:"completion"`
	WorkerID   string `json:"workerId"`
	Backend    string `json:"backend"`
	LatencyMs  int64  `json:"latencyMs"`
}

// TranslateOutput is ruvltra_code_translate's result shape.
type TranslateOutput struct {
	Translated string `json:"translated"`
	WorkerID   string `json:"workerId"`
	Backend    string `json:"backend"`
	LatencyMs  int64  `json:"latencyMs"`
}

// ParallelTaskArgs is one fan-out entry of ruvltra_parallel_generate. Its
// wire shape differs from GenerateArgs: existing source is passed as
// "context" rather than "code", matching the tool's own argument table
// rather than the single-purpose tools' shared shape.
type ParallelTaskArgs struct {
	TaskType       string  `json:"taskType,omitempty" jsonschema:"One of generate,review,refactor,explain,test,fix,complete,translate. Defaults to generate."`
	FilePath       string  `json:"filePath,omitempty" jsonschema:"File path for context, used to infer file type"`
	Instruction    string  `json:"instruction" jsonschema:"What to produce or change"`
	Context        string  `json:"context,omitempty" jsonschema:"Existing source code to operate on, if any"`
	Language       string  `json:"language,omitempty" jsonschema:"Programming language, e.g. go, python, typescript"`
	TargetLanguage string  `json:"targetLanguage,omitempty" jsonschema:"Language to translate the code into, required when taskType is translate"`
	MaxTokens      int     `json:"maxTokens,omitempty" jsonschema:"Maximum tokens to generate, 0 uses the server default"`
	Temperature    float64 `json:"temperature,omitempty" jsonschema:"Sampling temperature"`
	TimeoutMs      int     `json:"timeoutMs,omitempty" jsonschema:"Per-task timeout override in milliseconds"`
}

// ParallelGenerateArgs is the input for ruvltra_parallel_generate: a batch
// of independent requests run concurrently.
type ParallelGenerateArgs struct {
	Requests []ParallelTaskArgs `json:"requests" jsonschema:"Independent generation requests to run concurrently"`
}

// GenerateResultItem is one entry of a fan-out result: either a populated
// GenerateOutput or an Error, never both. ItemID identifies the fan-out
// entry itself, distinct from the task ID the underlying generation ran
// under.
type GenerateResultItem struct {
	ItemID string `json:"itemId"`
	GenerateOutput
	Error string `json:"error,omitempty"`
}

// ParallelGenerateOutput is the output of ruvltra_parallel_generate, one
// entry per input request in the same order, plus the batch's aggregate
// totals (spec.md §6).
type ParallelGenerateOutput struct {
	TotalTasks     int                  `json:"totalTasks"`
	TotalLatencyMs int64                `json:"totalLatencyMs"`
	Results        []GenerateResultItem `json:"results"`
}

// SwarmReviewArgs is the input for ruvltra_swarm_review: one piece of code
// reviewed from several independent angles concurrently.
type SwarmReviewArgs struct {
	Code         string   `json:"code" jsonschema:"Source code to review"`
	Language     string   `json:"language,omitempty" jsonschema:"Programming language"`
	FilePath     string   `json:"filePath,omitempty" jsonschema:"File path for context"`
	Perspectives []string `json:"perspectives,omitempty" jsonschema:"Review angles to run, e.g. security, performance, style. Defaults to a fixed panel."`
}

// SwarmReviewOutput is the output of ruvltra_swarm_review: the panel that
// actually ran, the batch's total latency, and one entry per perspective
// (spec.md §6).
type SwarmReviewOutput struct {
	Perspectives   []string          `json:"perspectives"`
	TotalLatencyMs int64             `json:"totalLatencyMs"`
	Reviews        []SwarmReviewItem `json:"reviews"`
}

// SwarmReviewItem is one perspective's review result.
type SwarmReviewItem struct {
	Perspective string `json:"perspective"`
	GenerateResultItem
}

// StatusArgs is the (empty) input for ruvltra_status.
type StatusArgs struct{}

// StatusOutput is the output of ruvltra_status: the pool's aggregate
// snapshot verbatim.
type StatusOutput = pool.Status

// SonaStatsArgs is the (empty) input for ruvltra_sona_stats.
type SonaStatsArgs struct{}

// SonaStatsOutput is the output of ruvltra_sona_stats: every worker's
// Pattern Memory statistics.
type SonaStatsOutput struct {
	Workers []WorkerSonaStats `json:"workers"`
}

// WorkerSonaStats is re-declared (rather than importing internal/memory's
// Stats type by alias) so the tool's JSON schema does not leak an internal
// package name into the wire contract.
type WorkerSonaStats struct {
	WorkerID           string   `json:"workerId"`
	Interactions       int      `json:"interactions"`
	Successes          int      `json:"successes"`
	PatternCount       int      `json:"patternCount"`
	Consolidations     int      `json:"consolidations"`
	LastConsolidatedAt string   `json:"lastConsolidatedAt"`
	TopHints           []string `json:"topHints,omitempty"`
}

// ScaleWorkersArgs is the input for ruvltra_scale_workers: the desired
// worker count, clamped by the pool to its configured [minWorkers,
// maxWorkers] bounds rather than rewriting them.
type ScaleWorkersArgs struct {
	Target int `json:"target" jsonschema:"Desired worker count, clamped to the pool's configured minWorkers/maxWorkers bounds"`
}

// ScaleWorkersOutput is the resulting pool snapshot.
type ScaleWorkersOutput = pool.Status

// CancelTasksArgs is the input for the supplemental ruvltra_cancel_tasks
// tool, grounded on the teacher's cancel_tasks.go.
type CancelTasksArgs struct {
	TaskIDs []int64 `json:"taskIds,omitempty" jsonschema:"Specific task IDs to cancel. Empty cancels every task still in flight."`
}

// CancelTasksOutput reports how many tasks were actually cancelled.
type CancelTasksOutput struct {
	Cancelled int `json:"cancelled"`
}

// Command ruvltra-core runs the execution core as an MCP stdio server:
// every ruvltra_* tool is registered against the mediator, which in turn
// drives the worker pool, inference engine, and pattern memory.
//
// Grounded on the teacher's process model (a single long-lived stdio MCP
// server, no HTTP surface for tool calls) generalized from its one
// global TaskStore + semaphore to a Pool that owns its own workers.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ruvltra/ruvltra-core/internal/config"
	"github.com/ruvltra/ruvltra-core/internal/coreerr"
	"github.com/ruvltra/ruvltra-core/internal/mediator"
	"github.com/ruvltra/ruvltra-core/internal/metrics"
	"github.com/ruvltra/ruvltra-core/internal/pool"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, warnings := config.Load(*configPath)
	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	for _, w := range warnings {
		log.Warn("config warning", zap.String("detail", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pool.New(cfg, log)
	med := mediator.New(p, log)

	reg := metrics.New()
	go func() {
		if err := reg.Run(ctx, cfg.MetricsAddr, p, log); err != nil {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()

	server := mcp.NewServer(&mcp.Implementation{Name: "ruvltra-core", Version: version}, nil)
	registerTools(server, med)

	log.Info("ruvltra-core starting",
		zap.Int("minWorkers", cfg.MinWorkers),
		zap.Int("maxWorkers", cfg.MaxWorkers),
		zap.Bool("sonaEnabled", cfg.SonaEnabled),
	)

	runErr := server.Run(ctx, &mcp.StdioTransport{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TaskTimeout())
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		log.Warn("pool shutdown did not complete cleanly", zap.Error(err))
	}

	if runErr != nil {
		log.Error("server exited with error", zap.Error(runErr))
		os.Exit(1)
	}
}

// registerTools binds every ruvltra_* tool to its mediator method. Grounded
// on the MCP go-sdk's typed AddTool pattern: Go struct fields tagged
// jsonschema reflect directly into the tool's input schema, so tools.go
// never hand-writes one.
func registerTools(server *mcp.Server, med *mediator.Mediator) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_code_generate",
		Description: "Generate code from an instruction, optionally with existing code as context.",
	}, wrap(med.CodeGenerate))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_code_review",
		Description: "Review code and report issues found.",
	}, wrap(med.CodeReview))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_code_refactor",
		Description: "Refactor code per an instruction while preserving behavior.",
	}, wrap(med.CodeRefactor))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_code_explain",
		Description: "Explain what a piece of code does.",
	}, wrap(med.CodeExplain))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_code_test",
		Description: "Write tests for a piece of code per an instruction.",
	}, wrap(med.CodeTest))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_code_fix",
		Description: "Fix a described problem in a piece of code.",
	}, wrap(med.CodeFix))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_code_complete",
		Description: "Complete a piece of code per an instruction.",
	}, wrap(med.CodeComplete))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_code_translate",
		Description: "Translate code into another language.",
	}, wrap(med.CodeTranslate))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_parallel_generate",
		Description: "Run a batch of independent generation requests concurrently.",
	}, wrap(med.ParallelGenerate))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_swarm_review",
		Description: "Review one piece of code from several independent perspectives concurrently.",
	}, wrap(med.SwarmReview))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_status",
		Description: "Report the worker pool's current size, queue depth, and backend health.",
	}, wrap(med.Status))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_sona_stats",
		Description: "Report every worker's pattern memory statistics.",
	}, wrap(med.SonaStats))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_scale_workers",
		Description: "Resize the worker pool toward a target count, clamped to its configured bounds.",
	}, wrap(med.ScaleWorkers))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ruvltra_cancel_tasks",
		Description: "Cancel specific in-flight tasks, or every task still in flight.",
	}, wrap(med.CancelTasks))
}

// wrap adapts a mediator method's (ctx, In) (Out, error) signature to the
// SDK's ToolHandlerFor[In, Out], which additionally threads a
// *mcp.CallToolRequest neither the mediator nor its tests need to know
// about.
//
// InvalidArgument is the only error kind surfaced as a JSON-RPC protocol
// error (returning err itself, which the SDK reports as invalid params);
// every other kind is a successful call that reports failure through the
// result's IsError envelope, since the tool call itself was well-formed.
func wrap[In, Out any](fn func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		out, err := fn(ctx, in)
		if err == nil {
			return nil, out, nil
		}
		if coreerr.KindOf(err) == coreerr.InvalidArgument {
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}, out, nil
	}
}

func newLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	// stderr only: the JSON-RPC protocol stream lives on stdout, and a log
	// line written there would corrupt it.
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(os.Stderr), zapLevel)
	return zap.New(core)
}

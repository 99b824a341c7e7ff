package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// NativeBackend is the on-box substrate: it talks to the local Ollama
// daemon via github.com/ollama/ollama/api (the teacher's own dependency),
// which loads and manages the model file itself. Per spec.md §4.2.2 a
// single model is loaded once per worker and each call gets an isolated
// inference context — here that means one *api.Client bound to one model
// name per worker, with no shared mutable decoder state across workers
// (each worker owns its own NativeBackend and client).
type NativeBackend struct {
	client *api.Client
	model  string
	ready  bool

	mu   sync.Mutex
	note string
	log  *zap.Logger
}

// NewNativeBackend builds a backend bound to the daemon at endpoint and the
// given model name. modelPath is accepted for API-compatibility with
// spec.md's modelPath config key but is informational only here — the
// daemon resolves the model by name, not by filesystem path.
func NewNativeBackend(endpoint, model, modelPath string, log *zap.Logger) *NativeBackend {
	ready := endpoint != "" && model != ""
	var client *api.Client
	if ready {
		base, err := url.Parse(endpoint)
		if err != nil || base.Scheme == "" || base.Host == "" {
			ready = false
		} else {
			client = api.NewClient(base, http.DefaultClient)
		}
	}
	return &NativeBackend{client: client, model: model, ready: ready, log: log}
}

func (b *NativeBackend) Tag() Tag { return TagNativeLocal }

func (b *NativeBackend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *NativeBackend) demote(note string) {
	b.mu.Lock()
	b.ready = false
	b.note = note
	b.mu.Unlock()
}

// Note returns the last human-readable status, e.g. the reason the backend
// was demoted.
func (b *NativeBackend) Note() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.note
}

func (b *NativeBackend) Generate(ctx context.Context, prompt string, params GenerateParams) (Output, error) {
	if !b.Ready() {
		return Output{}, fmt.Errorf("native backend: not ready")
	}
	start := time.Now()

	var sb strings.Builder
	var usage api.Metrics
	respFn := func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		if resp.Done {
			usage = resp.Metrics
		}
		return nil
	}

	opts := map[string]interface{}{
		"temperature": params.Temperature,
	}
	if params.MaxTokens > 0 {
		opts["num_predict"] = params.MaxTokens
	}

	req := &api.GenerateRequest{
		Model:   b.model,
		Prompt:  prompt,
		Stream:  boolPtr(true),
		Options: opts,
	}

	if err := b.client.Generate(ctx, req, respFn); err != nil {
		if isDegradedModeError(err) {
			b.demote("native backend degraded: " + degradationHint(err))
			return Output{}, fmt.Errorf("native backend: degraded mode detected: %w", err)
		}
		return Output{}, fmt.Errorf("native backend: generate: %w", err)
	}

	return Output{
		Text:             sb.String(),
		Model:            b.model,
		LatencyMs:        time.Since(start).Milliseconds(),
		PromptTokens:     usage.PromptEvalCount,
		CompletionTokens: usage.EvalCount,
	}, nil
}

func boolPtr(b bool) *bool { return &b }

// degradedModeMarkers are the fallback/degraded-mode strings spec.md §4.2.4
// treats as evidence a backend cannot actually run the model.
var degradedModeMarkers = []string{
	"fallback mode", "degraded mode", "cpu-only fallback", "model not loaded",
}

func isDegradedModeError(err error) bool {
	lower := strings.ToLower(err.Error())
	for _, marker := range degradedModeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return strings.HasSuffix(strings.TrimSpace(lower), "-js")
}

func degradationHint(err error) string {
	return "expected a native GPU/CPU runtime on this host for the requested model; saw: " + err.Error()
}

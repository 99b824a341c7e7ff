package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// protocolShape is the wire shape the remote endpoint speaks.
type protocolShape string

const (
	shapeChatCompletions protocolShape = "chat"
	shapeRawCompletion   protocolShape = "raw"
)

// HTTPBackend talks to an arbitrary remote HTTP model endpoint behind a
// circuit breaker, with protocol negotiation between the OpenAI-style
// chat-completions shape and a raw-completion shape (spec.md §4.2.1).
//
// No HTTP client library in the retrieval pack — including
// sashabaranov/go-openai, used elsewhere in the pack for a fixed OpenAI
// wire shape — supports the dual-protocol negotiation, recursive response
// field search, and bespoke retry/circuit-breaker coupling this adapter
// needs, so it is built on net/http + encoding/json directly, in the style
// of jinterlante1206-AleutianLocal's context/retry.go (exponential backoff
// with jitter over a RetryableFunc).
type HTTPBackend struct {
	endpoint   string
	apiKey     string
	model      string
	shapeCfg   string // auto|openai|llama from config
	httpClient *http.Client

	maxRetries int
	retryBase  time.Duration

	breaker *CircuitBreaker
	ready   bool
	log     *zap.Logger
}

// NewHTTPBackend constructs the backend. If endpoint is empty the backend
// reports Ready()==false and is skipped by the engine's fallback loop.
func NewHTTPBackend(endpoint, apiKey, model, shapeCfg string, timeout time.Duration, maxRetries int, retryBase time.Duration, circuitThreshold int, circuitCooldown time.Duration, log *zap.Logger) *HTTPBackend {
	return &HTTPBackend{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		shapeCfg:   shapeCfg,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryBase:  retryBase,
		breaker:    NewCircuitBreaker(circuitThreshold, circuitCooldown),
		ready:      endpoint != "",
		log:        log,
	}
}

func (b *HTTPBackend) Tag() Tag    { return TagHTTP }
func (b *HTTPBackend) Ready() bool { return b.ready }

// Breaker exposes the circuit breaker for Status reporting.
func (b *HTTPBackend) Breaker() *CircuitBreaker { return b.breaker }

func (b *HTTPBackend) shape() protocolShape {
	switch b.shapeCfg {
	case "openai":
		return shapeChatCompletions
	case "llama":
		return shapeRawCompletion
	}
	lower := strings.ToLower(b.endpoint)
	switch {
	case strings.Contains(lower, "/chat/completions"), strings.Contains(lower, "/v1/completions"):
		return shapeChatCompletions
	case strings.Contains(lower, "/completion"), strings.Contains(lower, "/generate"):
		return shapeRawCompletion
	default:
		return shapeChatCompletions
	}
}

// Generate performs the circuit-breaker check, then up to maxRetries+1
// tries with exponential backoff (spec.md §4.2.1).
func (b *HTTPBackend) Generate(ctx context.Context, prompt string, params GenerateParams) (Output, error) {
	now := time.Now()
	if !b.breaker.Allow(now) {
		return Output{}, fmt.Errorf("http backend: circuit open, next attempt at %s", b.breaker.Snapshot().NextAttemptAt)
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(b.retryBase) * math.Pow(2, float64(attempt)))
			if backoff > 15*time.Second {
				backoff = 15 * time.Second
			}
			backoff += time.Duration(rand.Intn(50)) * time.Millisecond
			select {
			case <-ctx.Done():
				b.breaker.RecordFailure(time.Now(), "context done during backoff")
				return Output{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, retryable, err := b.tryOnce(ctx, prompt, params)
		if err == nil {
			out.LatencyMs = time.Since(start).Milliseconds()
			b.breaker.RecordSuccess()
			return out, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	b.breaker.RecordFailure(time.Now(), lastErr.Error())
	return Output{}, lastErr
}

// tryOnce performs exactly one HTTP attempt and classifies the error as
// retryable or not per spec.md §4.2.1's retry policy.
func (b *HTTPBackend) tryOnce(ctx context.Context, prompt string, params GenerateParams) (Output, bool, error) {
	body, err := b.buildBody(prompt, params)
	if err != nil {
		return Output{}, false, fmt.Errorf("http backend: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return Output{}, false, fmt.Errorf("http backend: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Output{}, false, ctx.Err()
		}
		// transport timeout, connection reset, fetch failure: retryable.
		return Output{}, true, fmt.Errorf("http backend: transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out, err := b.parseResponse(respBody)
		if err != nil {
			// well-formed response lacking content: non-retryable.
			return Output{}, false, fmt.Errorf("http backend: response lacks content: %w", err)
		}
		return out, false, nil
	}

	retryable := resp.StatusCode == 408 || resp.StatusCode == 429 || resp.StatusCode >= 500
	return Output{}, retryable, fmt.Errorf("http backend: status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type rawRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

func (b *HTTPBackend) buildBody(prompt string, params GenerateParams) ([]byte, error) {
	switch b.shape() {
	case shapeRawCompletion:
		return json.Marshal(rawRequest{Prompt: prompt, NPredict: params.MaxTokens, Temperature: params.Temperature})
	default:
		return json.Marshal(chatRequest{
			Model:       b.model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			MaxTokens:   params.MaxTokens,
			Temperature: params.Temperature,
		})
	}
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// rawContentKeys are searched, in order, recursively through the decoded
// raw-completion JSON body (spec.md §4.2.1).
var rawContentKeys = []string{"content", "text", "response", "completion", "generated_text", "output"}

func (b *HTTPBackend) parseResponse(body []byte) (Output, error) {
	if b.shape() == shapeChatCompletions {
		var cr chatResponse
		if err := json.Unmarshal(body, &cr); err == nil && len(cr.Choices) > 0 && cr.Choices[0].Message.Content != "" {
			out := Output{Text: cr.Choices[0].Message.Content, Model: cr.Model}
			if cr.Usage != nil {
				out.PromptTokens = cr.Usage.PromptTokens
				out.CompletionTokens = cr.Usage.CompletionTokens
			}
			if out.Model == "" {
				out.Model = b.model
			}
			return out, nil
		}
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		return Output{}, fmt.Errorf("invalid JSON response: %w", err)
	}
	if text, ok := findStringField(generic, rawContentKeys); ok && text != "" {
		model := b.model
		if m, ok := generic["model"].(string); ok && m != "" {
			model = m
		}
		return Output{Text: text, Model: model}, nil
	}
	return Output{}, fmt.Errorf("no recognized content field in response")
}

// findStringField recursively searches v for the first of keys present with
// a non-empty string value.
func findStringField(v interface{}, keys []string) (string, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return "", false
	}
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s, true
		}
	}
	for _, child := range m {
		if s, ok := findStringField(child, keys); ok {
			return s, true
		}
		if arr, ok := child.([]interface{}); ok {
			for _, item := range arr {
				if s, ok := findStringField(item, keys); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}

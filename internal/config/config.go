// Package config loads and validates the operator-facing configuration
// surface described in spec.md §6: worker sizing, pattern-memory, the HTTP
// and native adapters, generation defaults, the mock backend, and
// diagnostics. Precedence is env > file > default, where the file is the one
// named by the --config flag; malformed file or env values fall back to
// defaults rather than failing the process.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved, clamped configuration for one process.
type Config struct {
	// Worker sizing.
	MinWorkers     int `yaml:"minWorkers"`
	MaxWorkers     int `yaml:"maxWorkers"`
	InitialWorkers int `yaml:"initialWorkers"`
	QueueMaxLength int `yaml:"queueMaxLength"`
	TaskTimeoutMs  int `yaml:"taskTimeoutMs"`

	// Pattern memory.
	SonaEnabled         bool   `yaml:"sonaEnabled"`
	SonaStateDir        string `yaml:"sonaStateDir"`
	SonaPersistInterval int    `yaml:"sonaPersistInterval"`

	// HTTP adapter.
	HTTPEndpoint               string `yaml:"httpEndpoint"`
	HTTPAPIKey                 string `yaml:"httpApiKey"`
	HTTPModel                  string `yaml:"httpModel"`
	HTTPFormat                 string `yaml:"httpFormat"` // auto|openai|llama
	HTTPTimeoutMs              int    `yaml:"httpTimeoutMs"`
	HTTPMaxRetries             int    `yaml:"httpMaxRetries"`
	HTTPRetryBaseMs            int    `yaml:"httpRetryBaseMs"`
	HTTPCircuitFailureThreshold int   `yaml:"httpCircuitFailureThreshold"`
	HTTPCircuitCooldownMs      int    `yaml:"httpCircuitCooldownMs"`

	// Native adapter.
	NativeEndpoint string `yaml:"nativeEndpoint"` // local Ollama daemon address
	NativeModel    string `yaml:"nativeModel"`
	ModelPath      string `yaml:"modelPath"`
	ContextLength  int    `yaml:"contextLength"`
	GPULayers      int    `yaml:"gpuLayers"`
	Threads        int    `yaml:"threads"`

	// Generation defaults.
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float64 `yaml:"temperature"`

	// Embedded-learning backend.
	EmbeddedDownloadPath string `yaml:"embeddedDownloadPath"`

	// Mock backend.
	MockLatencyMs int `yaml:"mockLatencyMs"`

	// Diagnostics.
	LogLevel string `yaml:"logLevel"`

	// Metrics (ambient addition, §11 domain stack).
	MetricsAddr string `yaml:"metricsAddr"` // empty disables the metrics listener
}

// Default returns the configuration with every field at its spec.md §6
// default.
func Default() Config {
	return Config{
		MinWorkers:     2,
		MaxWorkers:     8,
		InitialWorkers: 2,
		QueueMaxLength: 256,
		TaskTimeoutMs:  60000,

		SonaEnabled:         true,
		SonaStateDir:        "",
		SonaPersistInterval: 10,

		HTTPEndpoint:                "",
		HTTPAPIKey:                  "",
		HTTPModel:                   "",
		HTTPFormat:                  "auto",
		HTTPTimeoutMs:               15000,
		HTTPMaxRetries:              2,
		HTTPRetryBaseMs:             250,
		HTTPCircuitFailureThreshold: 5,
		HTTPCircuitCooldownMs:       30000,

		NativeEndpoint: "http://127.0.0.1:11434",
		NativeModel:    "",
		ModelPath:      "",
		ContextLength:  4096,
		GPULayers:      -1,
		Threads:        0,

		MaxTokens:   512,
		Temperature: 0.2,

		EmbeddedDownloadPath: "",

		MockLatencyMs: 120,

		LogLevel:    "info",
		MetricsAddr: "",
	}
}

// Load resolves configuration from, in increasing precedence: defaults, the
// YAML file at path (if non-empty and readable), then RUVLTRA_*
// environment variables. It never returns an error for malformed input —
// bad values are skipped and the default is kept; warnings are returned as
// a slice of human-readable strings for the caller to log.
func Load(path string) (Config, []string) {
	cfg := Default()
	var warnings []string

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, "config file unreadable, using defaults: "+err.Error())
		} else {
			var fileCfg Config
			fileCfg = cfg // start from defaults so partial files don't zero fields
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				warnings = append(warnings, "config file malformed, using defaults: "+err.Error())
			} else {
				cfg = fileCfg
			}
		}
	}

	applyEnv(&cfg, &warnings)
	clamp(&cfg)
	return cfg, warnings
}

// applyEnv overlays RUVLTRA_* environment variables onto cfg. Unparseable
// values are skipped with a warning; the prior value (file or default) is
// kept.
func applyEnv(cfg *Config, warnings *[]string) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	intVar := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			*warnings = append(*warnings, "env "+key+" not an integer, ignoring: "+v)
			return
		}
		*dst = n
	}
	floatVar := func(key string, dst *float64) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			*warnings = append(*warnings, "env "+key+" not a float, ignoring: "+v)
			return
		}
		*dst = f
	}
	boolVar := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			*warnings = append(*warnings, "env "+key+" not a bool, ignoring: "+v)
			return
		}
		*dst = b
	}

	intVar("RUVLTRA_MIN_WORKERS", &cfg.MinWorkers)
	intVar("RUVLTRA_MAX_WORKERS", &cfg.MaxWorkers)
	intVar("RUVLTRA_INITIAL_WORKERS", &cfg.InitialWorkers)
	intVar("RUVLTRA_QUEUE_MAX_LENGTH", &cfg.QueueMaxLength)
	intVar("RUVLTRA_TASK_TIMEOUT_MS", &cfg.TaskTimeoutMs)

	boolVar("RUVLTRA_SONA_ENABLED", &cfg.SonaEnabled)
	str("RUVLTRA_SONA_STATE_DIR", &cfg.SonaStateDir)
	intVar("RUVLTRA_SONA_PERSIST_INTERVAL", &cfg.SonaPersistInterval)

	str("RUVLTRA_HTTP_ENDPOINT", &cfg.HTTPEndpoint)
	str("RUVLTRA_HTTP_API_KEY", &cfg.HTTPAPIKey)
	str("RUVLTRA_HTTP_MODEL", &cfg.HTTPModel)
	str("RUVLTRA_HTTP_FORMAT", &cfg.HTTPFormat)
	intVar("RUVLTRA_HTTP_TIMEOUT_MS", &cfg.HTTPTimeoutMs)
	intVar("RUVLTRA_HTTP_MAX_RETRIES", &cfg.HTTPMaxRetries)
	intVar("RUVLTRA_HTTP_RETRY_BASE_MS", &cfg.HTTPRetryBaseMs)
	intVar("RUVLTRA_HTTP_CIRCUIT_FAILURE_THRESHOLD", &cfg.HTTPCircuitFailureThreshold)
	intVar("RUVLTRA_HTTP_CIRCUIT_COOLDOWN_MS", &cfg.HTTPCircuitCooldownMs)

	str("RUVLTRA_NATIVE_ENDPOINT", &cfg.NativeEndpoint)
	str("RUVLTRA_NATIVE_MODEL", &cfg.NativeModel)
	str("RUVLTRA_MODEL_PATH", &cfg.ModelPath)
	intVar("RUVLTRA_CONTEXT_LENGTH", &cfg.ContextLength)
	intVar("RUVLTRA_GPU_LAYERS", &cfg.GPULayers)
	intVar("RUVLTRA_THREADS", &cfg.Threads)

	intVar("RUVLTRA_MAX_TOKENS", &cfg.MaxTokens)
	floatVar("RUVLTRA_TEMPERATURE", &cfg.Temperature)

	str("RUVLTRA_EMBEDDED_DOWNLOAD_PATH", &cfg.EmbeddedDownloadPath)

	intVar("RUVLTRA_MOCK_LATENCY_MS", &cfg.MockLatencyMs)

	str("RUVLTRA_LOG_LEVEL", &cfg.LogLevel)
	str("RUVLTRA_METRICS_ADDR", &cfg.MetricsAddr)
}

// clamp pulls the numeric fields below into the sane range spec.md §6 implies,
// so a bad file/env value degrades rather than breaks the process. GPULayers
// and Threads are passed through unchanged.
func clamp(c *Config) {
	clampInt(&c.MinWorkers, 1, 64)
	clampInt(&c.MaxWorkers, c.MinWorkers, 128)
	clampInt(&c.InitialWorkers, c.MinWorkers, c.MaxWorkers)
	clampInt(&c.QueueMaxLength, 1, 1<<20)
	clampInt(&c.TaskTimeoutMs, 100, 10*60*1000)

	clampInt(&c.SonaPersistInterval, 1, 10000)

	if c.HTTPFormat != "openai" && c.HTTPFormat != "llama" {
		c.HTTPFormat = "auto"
	}
	clampInt(&c.HTTPTimeoutMs, 100, 10*60*1000)
	clampInt(&c.HTTPMaxRetries, 0, 10)
	clampInt(&c.HTTPRetryBaseMs, 1, 60000)
	clampInt(&c.HTTPCircuitFailureThreshold, 1, 1000)
	clampInt(&c.HTTPCircuitCooldownMs, 100, 60*60*1000)

	clampInt(&c.ContextLength, 256, 1<<20)

	clampInt(&c.MaxTokens, 1, 1<<20)
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Temperature > 2 {
		c.Temperature = 2
	}

	clampInt(&c.MockLatencyMs, 0, 60000)
}

func clampInt(v *int, lo, hi int) {
	if *v < lo {
		*v = lo
	}
	if *v > hi {
		*v = hi
	}
}

// TaskTimeout returns TaskTimeoutMs as a time.Duration, for convenience at
// call sites that arm timers.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMs) * time.Millisecond
}

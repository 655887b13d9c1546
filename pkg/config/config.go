// Package config loads the orchestrator's typed configuration from a YAML
// file with environment-variable overrides. A single Config value is
// constructed once at boot and passed explicitly to every component; there
// is no package-level mutable config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Concurrency bounds the Admission Queue and the Worker Pool.
type Concurrency struct {
	GlobalRunningTasks int `yaml:"global_running_tasks"`
	WorkerCount        int `yaml:"worker_count"`
	Prefetch           int `yaml:"prefetch"`
}

// Limits bounds the LLM adapter's rate and timeouts.
type Limits struct {
	RPM            int           `yaml:"rpm"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	HardTimeout    time.Duration `yaml:"hard_timeout"`
}

// Retry governs the backoff policy for transient adapter errors.
type Retry struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseMs      int     `yaml:"base_ms"`
	JitterFrac  float64 `yaml:"jitter_frac"`
}

// Index governs the Vector Index adapter's batching.
type Index struct {
	BatchSize int `yaml:"batch_size"`
}

// Doc governs the Document-Generation stage's polling.
type Doc struct {
	PollInterval          time.Duration `yaml:"poll_interval"`
	MaxTotal              time.Duration `yaml:"max_total"`
	DocumentFailurePolicy string        `yaml:"document_failure_policy"` // "fail" | "complete_with_warning"
}

// Store governs Task Store persistence.
type Store struct {
	DSN      string `yaml:"dsn"` // bbolt file path
	PoolSize int    `yaml:"pool_size"`
}

// Paths governs filesystem roots the orchestrator reads/writes.
type Paths struct {
	RepoRoot        string `yaml:"repo_root"`
	VectorstoreRoot string `yaml:"vectorstore_root"`
}

// Provider holds LLM provider credentials, sourced only from environment
// variables (never the YAML file) so secrets never land on disk next to
// ordinary config.
type Provider struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Config is the complete, immutable, typed configuration for one
// orchestrator process. It is read once at boot and handed to the
// orchestrator, the worker pool, and every adapter constructor; workers
// bootstrapped later receive the identical struct rather than re-reading
// the environment themselves.
type Config struct {
	Concurrency Concurrency `yaml:"concurrency"`
	Limits      Limits      `yaml:"limits"`
	Retry       Retry       `yaml:"retry"`
	Index       Index       `yaml:"index"`
	Doc         Doc         `yaml:"doc"`
	Store       Store       `yaml:"store"`
	Paths       Paths       `yaml:"paths"`
	Provider    Provider    `yaml:"-"`

	// HeartbeatInterval (H) is how often a worker refreshes its task's
	// heartbeat; a task is an orphan once its heartbeat is stale beyond
	// 2*HeartbeatInterval.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Concurrency: Concurrency{
			GlobalRunningTasks: 4,
			WorkerCount:        8,
			Prefetch:           2,
		},
		Limits: Limits{
			RPM:            500,
			RequestTimeout: 30 * time.Second,
			HardTimeout:    90 * time.Second,
		},
		Retry: Retry{
			MaxAttempts: 3,
			BaseMs:      250,
			JitterFrac:  0.2,
		},
		Index: Index{
			BatchSize: 64,
		},
		Doc: Doc{
			PollInterval:          2 * time.Second,
			MaxTotal:              5 * time.Minute,
			DocumentFailurePolicy: "fail",
		},
		Store: Store{
			DSN:      "coderead.db",
			PoolSize: 1,
		},
		Paths: Paths{
			RepoRoot:        "/var/lib/coderead/repos",
			VectorstoreRoot: "/var/lib/coderead/vectorstore",
		},
		HeartbeatInterval: 10 * time.Second,
	}
}

// Load reads a YAML file at path (if non-empty) over the defaults, then
// applies environment-variable overrides for a fixed set of keys plus LLM
// provider credentials. No other environment variable is recognized.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideInt(&cfg.Concurrency.GlobalRunningTasks, "CONCURRENCY_GLOBAL_RUNNING_TASKS")
	overrideInt(&cfg.Concurrency.WorkerCount, "CONCURRENCY_WORKER_COUNT")
	overrideInt(&cfg.Concurrency.Prefetch, "CONCURRENCY_PREFETCH")
	overrideInt(&cfg.Limits.RPM, "LIMITS_RPM")
	overrideDuration(&cfg.Limits.RequestTimeout, "LIMITS_REQUEST_TIMEOUT")
	overrideDuration(&cfg.Limits.HardTimeout, "LIMITS_HARD_TIMEOUT")
	overrideInt(&cfg.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS")
	overrideInt(&cfg.Retry.BaseMs, "RETRY_BASE_MS")
	overrideFloat(&cfg.Retry.JitterFrac, "RETRY_JITTER_FRAC")
	overrideInt(&cfg.Index.BatchSize, "INDEX_BATCH_SIZE")
	overrideDuration(&cfg.Doc.PollInterval, "DOC_POLL_INTERVAL")
	overrideDuration(&cfg.Doc.MaxTotal, "DOC_MAX_TOTAL")
	overrideString(&cfg.Doc.DocumentFailurePolicy, "DOC_FAILURE_POLICY")
	overrideString(&cfg.Store.DSN, "STORE_DSN")
	overrideInt(&cfg.Store.PoolSize, "STORE_POOL_SIZE")
	overrideString(&cfg.Paths.RepoRoot, "PATHS_REPO_ROOT")
	overrideString(&cfg.Paths.VectorstoreRoot, "PATHS_VECTORSTORE_ROOT")
	overrideDuration(&cfg.HeartbeatInterval, "HEARTBEAT_INTERVAL")

	cfg.Provider = Provider{
		APIKey:  os.Getenv("LLM_API_KEY"),
		BaseURL: os.Getenv("LLM_BASE_URL"),
		Model:   os.Getenv("LLM_MODEL"),
	}
}

func (c Config) validate() error {
	if c.Concurrency.GlobalRunningTasks <= 0 {
		return fmt.Errorf("config: concurrency.global_running_tasks must be > 0")
	}
	if c.Concurrency.WorkerCount <= 0 {
		return fmt.Errorf("config: concurrency.worker_count must be > 0")
	}
	if c.Doc.DocumentFailurePolicy != "fail" && c.Doc.DocumentFailurePolicy != "complete_with_warning" {
		return fmt.Errorf("config: doc.document_failure_policy must be 'fail' or 'complete_with_warning', got %q", c.Doc.DocumentFailurePolicy)
	}
	return nil
}

func overrideString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func overrideInt(dst *int, env string) {
	if v, ok := os.LookupEnv(env); ok {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}

func overrideFloat(dst *float64, env string) {
	if v, ok := os.LookupEnv(env); ok {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			*dst = f
		}
	}
}

func overrideDuration(dst *time.Duration, env string) {
	if v, ok := os.LookupEnv(env); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

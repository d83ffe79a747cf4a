// Package config loads the runtime configuration for the agent host process:
// the step budget, the LLM provider list, and the per-component policy
// numbers for the cache, memory, and usage tracker.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root configuration structure, loaded from a single YAML file.
type Config struct {
	MaxSteps        int               `yaml:"max_steps"`
	PrimaryProvider ProviderConfig    `yaml:"primary_provider"`
	BackupProviders []ProviderConfig  `yaml:"backup_providers"`
	EnabledTools    []string          `yaml:"enabled_tools"`
	Cache           CacheConfig       `yaml:"cache"`
	Memory          MemoryConfig      `yaml:"memory"`
	Usage           UsageConfig       `yaml:"usage"`
	Dispatcher      DispatcherConfig  `yaml:"dispatcher"`
	Logging         LoggingConfig     `yaml:"logging"`
	Metrics         MetricsConfig     `yaml:"metrics"`
	Tracing         TracingConfig     `yaml:"tracing"`
	EventStream     EventStreamConfig `yaml:"event_stream"`
}

// ProviderConfig describes one LLM backend: the primary or one ordered backup.
// The API credential is never read from the config file; it is resolved from
// the environment variable named by APIKeyEnv at load time, keeping secrets
// out of files on disk.
type ProviderConfig struct {
	Name          string  `yaml:"name"`
	Endpoint      string  `yaml:"url"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	Model         string  `yaml:"model"`
	SupportsTools bool    `yaml:"supports_tools"`
	CostScore     float64 `yaml:"cost_score"`

	// Credential is populated from the environment at load time; never
	// serialized back out.
	Credential string `yaml:"-"`
}

// CacheConfig configures the Router's request-response cache.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled"`
	Capacity int  `yaml:"capacity"`
}

// MemoryConfig configures the conversation memory's bounds.
type MemoryConfig struct {
	MaxMessages      int `yaml:"max_messages"`
	SummaryThreshold int `yaml:"summary_threshold"`
	KeepRecent       int `yaml:"keep_recent"`
}

// UsageConfig configures usage/cost persistence.
type UsageConfig struct {
	Enabled  bool   `yaml:"enabled"`
	FilePath string `yaml:"file_path"`
}

// DispatcherConfig configures the tool dispatcher.
type DispatcherConfig struct {
	MaxResultLen int           `yaml:"max_result_len"`
	TruncateKeep int           `yaml:"truncate_keep"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"`
	CacheResults bool          `yaml:"cache_results"`
}

// LoggingConfig configures the ambient structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	EnableInsecure bool    `yaml:"enable_insecure"`
}

// EventStreamConfig configures the optional websocket event bridge.
type EventStreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a Config with the defaults the spec names explicitly
// (max_steps, truncation sizes, summarization thresholds) and conservative
// defaults for everything the spec leaves to the implementer.
func Default() *Config {
	return &Config{
		MaxSteps: 10,
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 128,
		},
		Memory: MemoryConfig{
			MaxMessages:      40,
			SummaryThreshold: 30,
			KeepRecent:       8,
		},
		Usage: UsageConfig{
			Enabled:  true,
			FilePath: "usage.json",
		},
		Dispatcher: DispatcherConfig{
			MaxResultLen: 10000,
			TruncateKeep: 4000,
			MaxRetries:   2,
			RetryBackoff: time.Second,
			ToolTimeout:  120 * time.Second,
			CacheResults: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
	}
}

// Load reads a YAML config file at path, resolving $include directives and
// overlaying it onto Default(). Provider credentials are resolved from the
// environment after decoding.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, resolveCredentials(cfg)
	}

	raw, err := loadRawRecursive(path, map[string]bool{})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := decodeRawConfig(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := resolveCredentials(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the agent loop depends on before it starts.
func (c *Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if strings.TrimSpace(c.PrimaryProvider.Name) == "" {
		return fmt.Errorf("primary_provider.name is required")
	}
	if c.Memory.MaxMessages <= 0 {
		return fmt.Errorf("memory.max_messages must be positive")
	}
	if c.Memory.SummaryThreshold > c.Memory.MaxMessages {
		return fmt.Errorf("memory.summary_threshold must not exceed memory.max_messages")
	}
	return nil
}

// resolveCredentials populates ProviderConfig.Credential from the environment.
func resolveCredentials(cfg *Config) error {
	resolve := func(p *ProviderConfig) {
		if p.APIKeyEnv == "" {
			return
		}
		p.Credential = os.Getenv(p.APIKeyEnv)
	}
	resolve(&cfg.PrimaryProvider)
	for i := range cfg.BackupProviders {
		resolve(&cfg.BackupProviders[i])
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"xyz-agents/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Agents     AgentsConfig     `yaml:"agents"`
	Models     ModelsConfig     `yaml:"models"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Workload   WorkloadConfig   `yaml:"workload"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error, fatal
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stderr, stdout or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Threads      int `yaml:"threads"`        // 0 = number of CPUs
	MaxQueueSize int `yaml:"max_queue_size"` // 0 = unbounded
}

// AgentsConfig holds agent defaults and the instances created at startup.
type AgentsConfig struct {
	DefaultModel string                `yaml:"default_model"`
	Types        map[string]string     `yaml:"types,omitempty"` // agent type -> model type
	Instances    []AgentInstanceConfig `yaml:"instances,omitempty"`
}

// AgentInstanceConfig defines a single agent created at startup.
type AgentInstanceConfig struct {
	ID        string            `yaml:"id"`
	Type      string            `yaml:"type"`
	Autostart bool              `yaml:"autostart"`
	Settings  map[string]string `yaml:"settings,omitempty"`
}

// ModelsConfig holds model construction settings.
type ModelsConfig struct {
	CircuitBreaker CircuitBreakerConfig         `yaml:"circuit_breaker"`
	Parameters     map[string]map[string]string `yaml:"parameters,omitempty"` // model type -> params
}

// CircuitBreakerConfig configures the breaker wrapped around every model.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// SchedulerConfig holds periodic job settings.
type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	StatusInterval  string `yaml:"status_interval"`  // cron expression or duration
	RecoverInterval string `yaml:"recover_interval"` // empty disables automatic recovery
}

// WorkloadConfig drives the synthetic task generator used by `run`.
type WorkloadConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Rate      float64 `yaml:"rate"` // tasks per second across all agents
	Burst     int     `yaml:"burst"`
	InputSize int     `yaml:"input_size"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Dispatcher: DispatcherConfig{
			Threads:      4,
			MaxQueueSize: 1000,
		},
		Agents: AgentsConfig{
			DefaultModel: string(domain.ModelNeuralNetwork),
		},
		Models: ModelsConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     false,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			StatusInterval: "1m",
		},
		Workload: WorkloadConfig{
			Enabled:   false,
			Rate:      10,
			Burst:     10,
			InputSize: 3,
		},
	}
}

// Load reads the YAML file at path on top of Defaults, applies XYZ_* env
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfigLoad, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", domain.ErrConfigLoad, err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays XYZ_* environment variables onto cfg.
// Malformed numeric values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("XYZ_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("XYZ_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("XYZ_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("XYZ_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("XYZ_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("XYZ_METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("XYZ_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("XYZ_DISPATCHER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Dispatcher.Threads = n
		}
	}
	if v := os.Getenv("XYZ_DISPATCHER_MAX_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Dispatcher.MaxQueueSize = n
		}
	}
	if v := os.Getenv("XYZ_AGENTS_DEFAULT_MODEL"); v != "" {
		cfg.Agents.DefaultModel = v
	}
	if v := os.Getenv("XYZ_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = v == "true"
	}
	if v := os.Getenv("XYZ_SCHEDULER_STATUS_INTERVAL"); v != "" {
		cfg.Scheduler.StatusInterval = v
	}
	if v, ok := os.LookupEnv("XYZ_SCHEDULER_RECOVER_INTERVAL"); ok {
		cfg.Scheduler.RecoverInterval = v
	}
	if v := os.Getenv("XYZ_WORKLOAD_ENABLED"); v != "" {
		cfg.Workload.Enabled = v == "true"
	}
	if v := os.Getenv("XYZ_WORKLOAD_RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 {
			cfg.Workload.Rate = r
		}
	}
	if v := os.Getenv("XYZ_AGENTS"); v != "" {
		// "id:type,id:type" appends autostarted instances.
		for _, pair := range splitAndTrim(v, ",") {
			id, typ, ok := strings.Cut(pair, ":")
			if !ok || id == "" || typ == "" {
				continue
			}
			cfg.Agents.Instances = append(cfg.Agents.Instances, AgentInstanceConfig{
				ID:        strings.TrimSpace(id),
				Type:      strings.TrimSpace(typ),
				Autostart: true,
			})
		}
	}
}

// ModelTypeFor resolves the model type for an agent type, falling back to
// the configured default.
func (c AgentsConfig) ModelTypeFor(agentType string) string {
	if t, ok := c.Types[agentType]; ok && t != "" {
		return t
	}
	return c.DefaultModel
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

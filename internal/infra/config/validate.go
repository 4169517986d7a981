package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"xyz-agents/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	validateDispatcher(cfg, ve)
	validateAgents(cfg, ve)
	validateModels(cfg, ve)
	validateScheduler(cfg, ve)
	validateWorkload(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warn": true, "warning": true, "error": true, "fatal": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of trace, debug, info, warn, error, fatal", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not supported (stdout, noop)", cfg.Tracer.Exporter)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is not a valid host:port: %v", cfg.Metrics.Addr, err)
	}
}

func validateDispatcher(cfg *Config, ve *ValidationError) {
	if cfg.Dispatcher.Threads < 0 {
		ve.Add("dispatcher.threads must be >= 0")
	}
	if cfg.Dispatcher.MaxQueueSize < 0 {
		ve.Add("dispatcher.max_queue_size must be >= 0")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if _, err := domain.ParseModelType(cfg.Agents.DefaultModel); err != nil {
		ve.Add("agents.default_model: %v", err)
	}
	for agentType, modelType := range cfg.Agents.Types {
		if _, err := domain.ParseModelType(modelType); err != nil {
			ve.Add("agents.types[%s]: %v", agentType, err)
		}
	}
	seen := make(map[string]bool, len(cfg.Agents.Instances))
	for i, inst := range cfg.Agents.Instances {
		if inst.Type == "" {
			ve.Add("agents.instances[%d].type must not be empty", i)
		}
		if inst.ID == "" {
			continue // generated at startup
		}
		if seen[inst.ID] {
			ve.Add("agents.instances[%d].id %q is duplicated", i, inst.ID)
		}
		seen[inst.ID] = true
	}
}

func validateModels(cfg *Config, ve *ValidationError) {
	for modelType := range cfg.Models.Parameters {
		if _, err := domain.ParseModelType(modelType); err != nil {
			ve.Add("models.parameters[%s]: %v", modelType, err)
		}
	}
	cb := cfg.Models.CircuitBreaker
	if cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("models.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("models.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	if err := validateSchedule(cfg.Scheduler.StatusInterval); err != nil {
		ve.Add("scheduler.status_interval: %v", err)
	}
	if cfg.Scheduler.RecoverInterval != "" {
		if err := validateSchedule(cfg.Scheduler.RecoverInterval); err != nil {
			ve.Add("scheduler.recover_interval: %v", err)
		}
	}
}

func validateWorkload(cfg *Config, ve *ValidationError) {
	if !cfg.Workload.Enabled {
		return
	}
	if cfg.Workload.Rate <= 0 {
		ve.Add("workload.rate must be > 0 when enabled")
	}
	if cfg.Workload.Burst <= 0 {
		ve.Add("workload.burst must be > 0 when enabled")
	}
	if cfg.Workload.InputSize <= 0 {
		ve.Add("workload.input_size must be > 0 when enabled")
	}
}

// validateSchedule accepts the same forms as the scheduler: a standard cron
// expression or a positive Go duration.
func validateSchedule(s string) error {
	if s == "" {
		return fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(s); err == nil {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("not a valid cron expression or duration: %q", s)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %q", s)
	}
	return nil
}

package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"xyz-agents/internal/adapter/model"
	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function. cfg is nil when the config
// could not be loaded.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results to out.
func runDoctor(ctx context.Context, cfgPath string, out io.Writer) error {
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Models", Fn: checkModels},
		{Name: "Agents", Fn: checkAgents},
		{Name: "Dispatcher", Fn: checkDispatcher},
		{Name: "Log output", Fn: checkLogOutput},
		{Name: "Metrics endpoint", Fn: checkMetricsAddr},
	}

	fmt.Fprintln(out, "xyz doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func skipped() CheckResult {
	return CheckResult{Status: StatusWarn, Message: "skipped, config not loaded"}
}

// checkConfigFile reports whether the config at cfgPath loaded. A missing
// file is only a warning since defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     fmt.Sprintf("Correct %s, or remove it to run with defaults", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found, using defaults", cfgPath),
				Fix:     "Create a config file or set XYZ_CONFIG",
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s is valid", cfgPath)}
	}
}

// checkModels builds every model type the config can resolve to and runs a
// probe inference through it.
func checkModels(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}

	var failed []string
	seen := make(map[domain.ModelType]bool)
	for _, name := range append([]string{cfg.Agents.DefaultModel}, slices.Collect(maps.Values(cfg.Agents.Types))...) {
		t, err := domain.ParseModelType(name)
		if err != nil {
			failed = append(failed, err.Error())
			continue
		}
		seen[t] = true
	}
	types := slices.Sorted(maps.Keys(seen))

	loader := model.NewLoader(cfg.Agents, cfg.Models, slog.New(slog.DiscardHandler))
	defer loader.Clear()
	probe := []float64{0.5, -0.25, 1}
	for _, t := range types {
		m, err := loader.Create(domain.ModelConfig{Name: "doctor-" + string(t), Type: t})
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", t, err))
			continue
		}
		if _, err := m.Inference(ctx, probe); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", t, err))
		}
	}
	if len(failed) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: strings.Join(failed, "; "),
			Fix:     "Check models.parameters for the failing model types",
		}
	}
	names := loader.List()
	for i, name := range names {
		names[i] = strings.TrimPrefix(name, "doctor-")
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d model type(s) respond: %s", len(names), strings.Join(names, ", "))}
}

func checkAgents(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	n := len(cfg.Agents.Instances)
	if n == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no agent instances configured",
			Fix:     "Add agents.instances or set XYZ_AGENTS=id:type,...",
		}
	}
	autostart := 0
	for _, inst := range cfg.Agents.Instances {
		if inst.Autostart {
			autostart++
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d instance(s), %d autostart", n, autostart)}
}

func checkDispatcher(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	threads := cfg.Dispatcher.Threads
	if threads == 0 {
		threads = runtime.NumCPU()
	}
	if cfg.Dispatcher.MaxQueueSize == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d worker(s), unbounded queue", threads),
			Fix:     "Set dispatcher.max_queue_size to bound memory under load",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d worker(s), queue limit %d", threads, cfg.Dispatcher.MaxQueueSize)}
}

func checkLogOutput(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	switch cfg.Logger.Output {
	case "", "stderr", "stdout":
		return CheckResult{Status: StatusPass, Message: "logging to " + cmp.Or(cfg.Logger.Output, "stderr")}
	}
	dir := filepath.Dir(cfg.Logger.Output)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("log directory %s does not exist", dir),
			Fix:     fmt.Sprintf("mkdir -p %s", dir),
		}
	}
	return CheckResult{Status: StatusPass, Message: "logging to " + cfg.Logger.Output}
}

func checkMetricsAddr(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	if !cfg.Metrics.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled"}
	}
	ln, err := net.Listen("tcp", cfg.Metrics.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Metrics.Addr, err),
			Fix:     "Choose a free metrics.addr or stop the process holding it",
		}
	}
	_ = ln.Close()
	return CheckResult{Status: StatusPass, Message: "can listen on " + cfg.Metrics.Addr}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xyz-agents/internal/adapter/model"
	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/config"
	"xyz-agents/internal/infra/logger"
	"xyz-agents/internal/infra/middleware"
	"xyz-agents/internal/infra/tracer"
	"xyz-agents/internal/usecase/agent"
	"xyz-agents/internal/usecase/dispatch"
	"xyz-agents/internal/usecase/eventbus"
	"xyz-agents/internal/usecase/multiagent"
	"xyz-agents/internal/usecase/scheduling"
	"xyz-agents/internal/usecase/workload"
)

const shutdownTimeout = 10 * time.Second

// app holds every long-lived component. Components are created by newApp,
// brought up by start and torn down in reverse by close.
type app struct {
	cfg *config.Config
	log *slog.Logger

	logClose       func() error
	tracerShutdown func(context.Context) error

	promRegistry *prometheus.Registry
	metricsSrv   *http.Server
	metricsAddr  string

	bus        *eventbus.Bus
	models     *model.Loader
	registry   *multiagent.Registry
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduling.Scheduler
	workload   *workload.Generator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, logClose, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		_ = logClose()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := eventbus.New(log.With("component", "eventbus"))
	bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		logger.Trace(log, "event", "type", string(ev.Type), "agent_id", ev.AgentID, "payload", string(ev.Payload))
	})

	models := model.NewLoader(cfg.Agents, cfg.Models, log.With("component", "models"))
	registry := multiagent.NewRegistry(models, log.With("component", "registry"),
		multiagent.WithEventBus(bus))
	dispatcher := dispatch.New(
		dispatch.WithLogger(log.With("component", "dispatcher")),
		dispatch.WithTransform(inferenceTransform(registry)),
		dispatch.WithMaxQueueSize(cfg.Dispatcher.MaxQueueSize),
		dispatch.WithMetrics(dispatch.MustNewMetrics(reg)),
		dispatch.WithEventBus(bus),
	)

	a := &app{
		cfg:            cfg,
		log:            log,
		logClose:       logClose,
		tracerShutdown: tracerShutdown,
		promRegistry:   reg,
		bus:            bus,
		models:         models,
		registry:       registry,
		dispatcher:     dispatcher,
	}
	if cfg.Scheduler.Enabled {
		a.scheduler = scheduling.NewScheduler(log.With("component", "scheduler"))
	}
	if cfg.Workload.Enabled {
		a.workload = workload.New(dispatcher, registry, cfg.Workload, log.With("component", "workload"))
	}
	return a, nil
}

// start initializes the dispatcher, creates the configured agents and
// starts the scheduler and metrics endpoint.
func (a *app) start(ctx context.Context) error {
	if err := a.dispatcher.Initialize(a.cfg.Dispatcher.Threads); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	if err := a.createAgents(); err != nil {
		return fmt.Errorf("agents: %w", err)
	}
	if a.cfg.Metrics.Enabled {
		if err := a.serveMetrics(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduleJobs(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	return nil
}

func (a *app) createAgents() error {
	var errs []error
	for _, inst := range a.cfg.Agents.Instances {
		ag, err := a.registry.CreateAgent(inst.Type, inst.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(inst.Settings) > 0 {
			ag.SetConfiguration(inst.Settings)
		}
		if inst.Autostart {
			if err := ag.Start(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (a *app) scheduleJobs(ctx context.Context) error {
	sc := a.cfg.Scheduler
	a.scheduler.RegisterAction(scheduling.ActionStatusReport,
		scheduling.StatusReport(a.registry, a.dispatcher, a.log.With("component", "status")))
	a.scheduler.RegisterAction(scheduling.ActionAgentRecover,
		scheduling.RecoverAgents(a.registry, a.log.With("component", "recover")))

	if err := a.scheduler.AddTask(scheduling.ScheduledTask{
		Name:     "status",
		Schedule: sc.StatusInterval,
		Action:   scheduling.ActionStatusReport,
	}); err != nil {
		return err
	}
	if sc.RecoverInterval != "" {
		if err := a.scheduler.AddTask(scheduling.ScheduledTask{
			Name:     "recover",
			Schedule: sc.RecoverInterval,
			Action:   scheduling.ActionAgentRecover,
		}); err != nil {
			return err
		}
	}
	return a.scheduler.Start(ctx)
}

func (a *app) serveMetrics() error {
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{Registry: a.promRegistry}))
	httpLog := a.log.With("component", "metrics")
	a.metricsSrv = &http.Server{
		Handler: middleware.Chain(mux,
			middleware.Recover(httpLog),
			middleware.AccessLog(httpLog),
			middleware.SecurityHeaders,
		),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server error", "error", err)
		}
	}()
	a.metricsAddr = ln.Addr().String()
	a.log.Info("metrics endpoint listening", "addr", a.metricsAddr)
	return nil
}

// close tears components down in dependency order. It is safe to call
// after a failed or skipped start.
func (a *app) close() {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			a.log.Error("scheduler stop error", "error", err)
		}
	}
	a.registry.DestroyAllAgents()
	a.dispatcher.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.log.Error("metrics server shutdown error", "error", err)
		}
	}
	a.bus.Close()
	if err := a.tracerShutdown(ctx); err != nil {
		a.log.Error("tracer shutdown error", "error", err)
	}
	a.log.Info("xyz stopped", "events", a.bus.Published())
	_ = a.logClose()
}

// agentLookup resolves the agent a task is addressed to.
type agentLookup interface {
	GetAgent(id string) (*agent.Agent, bool)
}

// inferenceTransform runs a task's input through the model of the agent it
// is addressed to. The agent's own state and output are left alone; tasks
// without an agent id pass their input through unchanged.
func inferenceTransform(agents agentLookup) dispatch.Transform {
	return func(ctx context.Context, task domain.Task) ([]float64, error) {
		if task.AgentID == "" {
			return dispatch.CopyInput(ctx, task)
		}
		ag, ok := agents.GetAgent(task.AgentID)
		if !ok {
			return nil, domain.NewSubSystemError("agent", "transform", domain.ErrNotFound, task.AgentID)
		}
		m := ag.Model()
		if m == nil {
			return nil, domain.NewDomainError("transform", domain.ErrNoModel, task.AgentID)
		}
		return m.Inference(ctx, task.Input)
	}
}

package main

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xyz-agents/internal/adapter/shell"
	"xyz-agents/internal/domain"
	"xyz-agents/internal/infra/config"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Logger.Level = "error"
	cfg.Dispatcher.Threads = 2
	cfg.Scheduler.Enabled = false
	cfg.Agents.DefaultModel = string(domain.ModelCustom)
	cfg.Agents.Types = map[string]string{"classifier": string(domain.ModelDecisionTree)}
	cfg.Agents.Instances = []config.AgentInstanceConfig{
		{ID: "echo-1", Type: "echo", Autostart: true, Settings: map[string]string{"region": "eu"}},
		{ID: "cls-1", Type: "classifier"},
	}
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	require.NoError(t, a.start(context.Background()))
	return a
}

func TestAppStartCreatesConfiguredAgents(t *testing.T) {
	a := startApp(t, testConfig())

	assert.Equal(t, []string{"cls-1", "echo-1"}, a.registry.ListAgents())
	assert.Equal(t, 2, a.dispatcher.ActiveThreadCount())

	echo, ok := a.registry.GetAgent("echo-1")
	require.True(t, ok)
	assert.Equal(t, domain.AgentStateRunning, echo.State())
	assert.Equal(t, map[string]string{"region": "eu"}, echo.Configuration())

	cls, ok := a.registry.GetAgent("cls-1")
	require.True(t, ok)
	assert.Equal(t, domain.AgentStateInitialized, cls.State())
	assert.Equal(t, domain.ModelDecisionTree, cls.Model().Type())
}

func TestAppStartRejectsDuplicateInstances(t *testing.T) {
	cfg := testConfig()
	cfg.Agents.Instances = append(cfg.Agents.Instances, config.AgentInstanceConfig{ID: "echo-1", Type: "echo"})

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	err = a.start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestAppDispatchesThroughAgentModel(t *testing.T) {
	a := startApp(t, testConfig())

	results := make(chan []float64, 1)
	require.NoError(t, a.dispatcher.SubmitTask(domain.Task{
		AgentID:  "cls-1",
		Input:    []float64{0.9},
		Callback: func(r []float64) { results <- r },
	}))

	select {
	case r := <-results:
		assert.Equal(t, []float64{1}, r)
	case <-time.After(5 * time.Second):
		t.Fatal("task did not complete")
	}
}

func TestAppCloseTearsDown(t *testing.T) {
	a, err := newApp(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, a.start(context.Background()))

	echo, _ := a.registry.GetAgent("echo-1")
	a.close()

	assert.Zero(t, a.registry.Len())
	assert.Equal(t, domain.AgentStateStopped, echo.State())
	assert.Zero(t, a.dispatcher.ActiveThreadCount())
	assert.ErrorIs(t, a.dispatcher.SubmitTask(domain.Task{Input: []float64{1}}), domain.ErrNotInitialized)
}

func TestAppCloseWithoutStart(t *testing.T) {
	a, err := newApp(context.Background(), testConfig())
	require.NoError(t, err)
	assert.NotPanics(t, a.close)
}

func TestAppSchedulesMaintenanceJobs(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.StatusInterval = "10ms"
	cfg.Scheduler.RecoverInterval = "10ms"

	a := startApp(t, cfg)
	require.NotNil(t, a.scheduler)
	assert.NotNil(t, a.scheduler.NextRun("status"))
	assert.NotNil(t, a.scheduler.NextRun("recover"))
}

func TestAppServesMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	a := startApp(t, cfg)
	require.NotEmpty(t, a.metricsAddr)

	done := make(chan struct{})
	require.NoError(t, a.dispatcher.SubmitTask(domain.Task{
		AgentID:  "echo-1",
		Input:    []float64{1},
		Callback: func([]float64) { close(done) },
	}))
	<-done

	resp, err := http.Get("http://" + a.metricsAddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Contains(t, string(body), `xyz_dispatcher_tasks_total{status="submitted"} 1`)
	assert.Contains(t, string(body), "xyz_dispatcher_workers 2")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestAppWorkloadFeedsAgents(t *testing.T) {
	cfg := testConfig()
	cfg.Workload.Enabled = true
	cfg.Workload.Rate = 200
	cfg.Workload.Burst = 10

	a := startApp(t, cfg)
	require.NotNil(t, a.workload)

	ctx, cancel := context.WithCancel(context.Background())
	var stopped atomic.Bool
	go func() {
		_ = a.workload.Run(ctx)
		stopped.Store(true)
	}()

	require.Eventually(t, func() bool {
		return a.workload.Stats().Processed >= 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.Eventually(t, stopped.Load, 5*time.Second, 10*time.Millisecond)

	echo, _ := a.registry.GetAgent("echo-1")
	assert.Len(t, echo.Output(), cfg.Workload.InputSize)
}

func TestSubmitMatchesProcess(t *testing.T) {
	cfg := testConfig()
	cfg.Agents.Types["net"] = string(domain.ModelNeuralNetwork)
	cfg.Agents.Instances = append(cfg.Agents.Instances,
		config.AgentInstanceConfig{ID: "net-1", Type: "net", Autostart: true})
	a := startApp(t, cfg)

	out := &syncBuffer{}
	sh := shell.New(a.registry, a.dispatcher, out, version, a.log)
	net1, ok := a.registry.GetAgent("net-1")
	require.True(t, ok)
	ctx := context.Background()

	require.NoError(t, sh.Execute(ctx, "process net-1 0.5 -0.25"))
	processed := net1.Output()
	require.Len(t, processed, 2)
	assert.NotEqual(t, []float64{0.5, -0.25}, processed, "neural network is not the identity")

	require.NoError(t, sh.Execute(ctx, "process net-1 3"))
	require.NoError(t, sh.Execute(ctx, "submit net-1 0.5 -0.25"))
	require.Eventually(t, func() bool {
		return len(net1.Output()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, processed, net1.Output())
}

func TestInferenceTransform(t *testing.T) {
	a := startApp(t, testConfig())
	transform := inferenceTransform(a.registry)
	ctx := context.Background()

	got, err := transform(ctx, domain.Task{Input: []float64{4, 5}})
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, got, "unaddressed tasks pass through")

	got, err = transform(ctx, domain.Task{AgentID: "cls-1", Input: []float64{0.1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, got)

	_, err = transform(ctx, domain.Task{AgentID: "ghost", Input: []float64{1}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.CodeAgentNotFound, domain.ErrorCodeOf(err))

	cls, _ := a.registry.GetAgent("cls-1")
	assert.Equal(t, domain.AgentStateInitialized, cls.State(), "transform leaves the agent alone")
	assert.Empty(t, cls.Output())
}

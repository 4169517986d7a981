package scheduling

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/usecase/agent"
)

type fixedModel struct{ fail bool }

func (m *fixedModel) ID() string             { return "fixed" }
func (m *fixedModel) Type() domain.ModelType { return domain.ModelCustom }
func (m *fixedModel) Inference(_ context.Context, in []float64) ([]float64, error) {
	if m.fail {
		return nil, errors.New("diverged")
	}
	return in, nil
}

type mapSource map[string]*agent.Agent

func (s mapSource) Statuses() []domain.AgentStatus {
	out := make([]domain.AgentStatus, 0, len(s))
	for _, a := range s {
		out = append(out, a.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s mapSource) GetAgent(id string) (*agent.Agent, bool) {
	a, ok := s[id]
	return a, ok
}

type fixedStats domain.DispatcherStats

func (f fixedStats) Stats() domain.DispatcherStats { return domain.DispatcherStats(f) }

func runningAgent(t *testing.T, id string, m domain.Model) *agent.Agent {
	t.Helper()
	a := agent.New(id, "sensor", newTestLogger(), agent.WithModel(m))
	require.NoError(t, a.Initialize())
	require.NoError(t, a.Start())
	return a
}

func TestStatusReport(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ok := runningAgent(t, "a", &fixedModel{})
	broken := runningAgent(t, "b", &fixedModel{fail: true})
	_, err := broken.ProcessData(context.Background(), []float64{1})
	require.Error(t, err)

	action := StatusReport(mapSource{"a": ok, "b": broken}, fixedStats{Workers: 4, Completed: 7}, logger)
	require.NoError(t, action(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "status report")
	assert.Contains(t, out, "agents=2")
	assert.Contains(t, out, "running=1")
	assert.Contains(t, out, "errored=1")
	assert.Contains(t, out, "workers=4")
	assert.Contains(t, out, "completed=7")
	assert.False(t, strings.Contains(out, "agent status"), "per-agent lines are debug only")
}

func TestRecoverAgents(t *testing.T) {
	m := &fixedModel{fail: true}
	broken := runningAgent(t, "b", m)
	_, err := broken.ProcessData(context.Background(), []float64{1})
	require.Error(t, err)
	require.Equal(t, domain.AgentStateError, broken.State())

	healthy := runningAgent(t, "a", &fixedModel{})
	require.NoError(t, healthy.Pause())

	m.fail = false
	action := RecoverAgents(mapSource{"a": healthy, "b": broken}, newTestLogger())
	require.NoError(t, action(context.Background()))

	assert.Equal(t, domain.AgentStateRunning, broken.State())
	assert.Equal(t, domain.AgentStatePaused, healthy.State(), "only errored agents are touched")
}

func TestRecoverAgentsCancelled(t *testing.T) {
	broken := runningAgent(t, "b", &fixedModel{fail: true})
	_, _ = broken.ProcessData(context.Background(), []float64{1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RecoverAgents(mapSource{"b": broken}, newTestLogger())(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.AgentStateError, broken.State())
}

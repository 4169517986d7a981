package scheduling

import (
	"context"
	"errors"
	"log/slog"

	"xyz-agents/internal/domain"
	"xyz-agents/internal/usecase/agent"
)

// AgentSource is the registry view the actions need.
type AgentSource interface {
	Statuses() []domain.AgentStatus
	GetAgent(id string) (*agent.Agent, bool)
}

// StatsSource reports dispatcher activity.
type StatsSource interface {
	Stats() domain.DispatcherStats
}

// StatusReport logs one line per agent and a dispatcher summary.
func StatusReport(agents AgentSource, dispatcher StatsSource, logger *slog.Logger) ActionFunc {
	return func(ctx context.Context) error {
		statuses := agents.Statuses()
		counts := make(map[domain.AgentState]int)
		for _, st := range statuses {
			counts[st.State]++
			logger.Debug("agent status",
				"agent_id", st.ID,
				"type", st.Type,
				"state", string(st.State),
				"model_id", st.ModelID,
				"output_len", st.OutputLen,
			)
		}
		stats := dispatcher.Stats()
		logger.Info("status report",
			"agents", len(statuses),
			"running", counts[domain.AgentStateRunning],
			"paused", counts[domain.AgentStatePaused],
			"stopped", counts[domain.AgentStateStopped],
			"errored", counts[domain.AgentStateError],
			"workers", stats.Workers,
			"busy", stats.Busy,
			"queued", stats.Queued,
			"completed", stats.Completed,
			"failed", stats.Failed,
		)
		return ctx.Err()
	}
}

// RecoverAgents re-initializes and restarts every agent in the Error state.
func RecoverAgents(agents AgentSource, logger *slog.Logger) ActionFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, st := range agents.Statuses() {
			if st.State != domain.AgentStateError {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			a, ok := agents.GetAgent(st.ID)
			if !ok {
				continue // destroyed meanwhile
			}
			if err := a.Initialize(); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := a.Start(); err != nil {
				errs = append(errs, err)
				continue
			}
			logger.Info("agent recovered", "agent_id", st.ID)
		}
		return errors.Join(errs...)
	}
}

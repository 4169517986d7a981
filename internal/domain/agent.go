package domain

// AgentState is the lifecycle state of an agent.
type AgentState string

const (
	AgentStateInitialized AgentState = "initialized"
	AgentStateRunning     AgentState = "running"
	AgentStatePaused      AgentState = "paused"
	AgentStateStopped     AgentState = "stopped"
	AgentStateError       AgentState = "error"
)

// AgentStatus is a read-only snapshot of an agent.
type AgentStatus struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	State     AgentState `json:"state"`
	ModelID   string     `json:"model_id,omitempty"`
	ModelType ModelType  `json:"model_type,omitempty"`
	OutputLen int        `json:"output_len"`
}

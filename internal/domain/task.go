package domain

// TaskCallback receives the result of a dispatched task. It runs on a worker
// goroutine and may be invoked concurrently with other callbacks.
type TaskCallback func(result []float64)

// Task is a unit of work for the dispatcher.
type Task struct {
	AgentID  string       // correlation only
	Input    []float64
	Callback TaskCallback
}

// DispatcherStats is a point-in-time snapshot of dispatcher activity.
type DispatcherStats struct {
	Initialized bool   `json:"initialized"`
	Workers     int    `json:"workers"`
	Busy        int    `json:"busy"`
	Queued      int    `json:"queued"`
	Submitted   uint64 `json:"submitted"`
	Completed   uint64 `json:"completed"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
}

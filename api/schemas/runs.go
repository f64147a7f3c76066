package schemas

import "time"

// -- Run Schemas --

// RunState is the lifecycle state of a dispatched run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RunStatus is what a caller polls after dispatching a run.
type RunStatus struct {
	RunID      string    `json:"run_id"`
	Key        string    `json:"key"`
	State      RunState  `json:"state"`
	Units      []string  `json:"units"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Report     *Report   `json:"report,omitempty"`
}

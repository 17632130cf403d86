package models

// StepStatus represents the lifecycle state of a single pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepPaused    StepStatus = "paused"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepWaiting   StepStatus = "waiting"
)

// Step is one stage of a pipeline. Number is the 1-based ordinal within the
// pipeline; each step owns its own status machine and event log.
type Step struct {
	ID         string     `json:"id"`
	PipelineID string     `json:"pipeline_id"`
	Number     int        `json:"number"`
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Tokens     int        `json:"tokens"`
	Cost       float64    `json:"cost"`
	Error      string     `json:"error,omitempty"`
	SkipReason string     `json:"skip_reason,omitempty"`
	RetryCount int        `json:"retry_count"`
}

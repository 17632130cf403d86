package models

import "time"

// PipelineStatus represents the lifecycle state of a pipeline.
type PipelineStatus string

const (
	PipelinePending        PipelineStatus = "pending"
	PipelineRunning        PipelineStatus = "running"
	PipelinePaused         PipelineStatus = "paused"
	PipelineCompleted      PipelineStatus = "completed"
	PipelineFailed         PipelineStatus = "failed"
	PipelineWaitingReview  PipelineStatus = "waiting_for_review"
	PipelineSuspended      PipelineStatus = "suspended"
	PipelineNeedsUserInput PipelineStatus = "needs_user_input"
)

// Pipeline is the server-tracked execution of an ordered sequence of steps
// for one unit of work. Mutated only by status-transition and step-completion
// events; token/cost totals are additive and never recomputed from scratch.
type Pipeline struct {
	ID          string         `json:"id"`
	TicketKey   string         `json:"ticket_key,omitempty"`
	CurrentStep int            `json:"current_step"`
	Status      PipelineStatus `json:"status"`
	TotalTokens int            `json:"total_tokens"`
	TotalCost   float64        `json:"total_cost"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

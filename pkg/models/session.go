package models

import "time"

// Tab is one open workspace tab: a ticket key plus an optional pointer to the
// pipeline currently shown for that ticket.
type Tab struct {
	TicketKey  string `json:"ticket_key"`
	PipelineID string `json:"pipeline_id,omitempty"`
	Position   int    `json:"position"`
}

// Session is the client's persisted identity: an opaque id that survives
// reloads and reconnects, the set of open tabs, and the active tab.
type Session struct {
	ID        string    `json:"id"`
	Tabs      []Tab     `json:"tabs"`
	ActiveTab string    `json:"active_tab"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfflineEventCategory tags what happened while the client was disconnected.
type OfflineEventCategory string

const (
	OfflineStepCompleted     OfflineEventCategory = "step_completed"
	OfflinePipelineCompleted OfflineEventCategory = "pipeline_completed"
	OfflinePipelineFailed    OfflineEventCategory = "pipeline_failed"
	OfflinePipelinePaused    OfflineEventCategory = "pipeline_paused"
	OfflineReviewRequested   OfflineEventCategory = "review_requested"
	OfflineApprovalNeeded    OfflineEventCategory = "approval_needed"
)

// OfflineEvent is a notification of something that happened while the owning
// client was disconnected. It lives in an unacknowledged queue until the user
// acknowledges it by id; acknowledgement is one-way.
type OfflineEvent struct {
	ID         string               `json:"id"`
	Category   OfflineEventCategory `json:"category"`
	PipelineID string               `json:"pipeline_id"`
	Payload    map[string]any       `json:"payload,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

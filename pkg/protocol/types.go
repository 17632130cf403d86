// Package protocol decodes the pipeline server's WebSocket frames into a
// closed set of typed events and encodes the client's outbound control frames.
//
// Every inbound frame is JSON with a "type" discriminator. Decode converts
// each frame into exactly one typed event or returns an error; callers log
// and drop undecodable frames — a bad frame must never tear down the socket.
package protocol

// Inbound event types.
const (
	TypeConnectionEstablished = "connection_established"

	// Pipeline lifecycle
	TypePipelineStarted   = "pipeline_started"
	TypePipelinePaused    = "pipeline_paused"
	TypePipelineResumed   = "pipeline_resumed"
	TypePipelineCompleted = "pipeline_completed"
	TypePipelineFailed    = "pipeline_failed"

	// Step lifecycle
	TypeStepStarted   = "step_started"
	TypeStepCompleted = "step_completed"
	TypeStepSkipped   = "step_skipped"

	// Streaming content
	TypeToken           = "token"
	TypeToolCallStarted = "tool_call_started"

	// Subagent activity (nested under a parent Task tool invocation)
	TypeSubagentText      = "subagent_text"
	TypeSubagentToolCall  = "subagent_tool_call"
	TypeSubagentCompleted = "subagent_completed"

	// Clarification (agent paused waiting for the user)
	TypeClarificationRequested = "clarification_requested"
	TypeClarificationAnswered  = "clarification_answered"

	// External review lifecycle
	TypeReviewStarted   = "review_started"
	TypeReviewCompleted = "review_completed"

	// Misc notifications
	TypeTicketSync   = "ticket_sync"
	TypeOfflineEvent = "offline_event"
)

// Outbound control frame types.
const (
	TypePing                = "ping"
	TypeClientDisconnecting = "client_disconnecting"
)

// Event is the closed set of inbound socket events. Consumers type-switch
// over the concrete variants and must handle (or explicitly ignore) each.
type Event interface {
	eventType() string
}

// ConnectionEstablished acknowledges a fresh socket connection.
type ConnectionEstablished struct {
	ConnectionID string `json:"connection_id"`
}

// PipelineStarted signals the pipeline entered the running state.
type PipelineStarted struct {
	PipelineID string `json:"pipeline_id"`
	Timestamp  string `json:"timestamp"`
}

// PipelinePaused signals the pipeline was paused.
type PipelinePaused struct {
	PipelineID string `json:"pipeline_id"`
	Timestamp  string `json:"timestamp"`
}

// PipelineResumed signals a paused pipeline resumed running.
type PipelineResumed struct {
	PipelineID string `json:"pipeline_id"`
	Timestamp  string `json:"timestamp"`
}

// PipelineCompleted signals the pipeline finished all steps.
type PipelineCompleted struct {
	PipelineID  string  `json:"pipeline_id"`
	TotalTokens int     `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
	Timestamp   string  `json:"timestamp"`
}

// PipelineFailed signals a terminal failure. StepNumber identifies the step
// that failed, if the server attributes the failure to one.
type PipelineFailed struct {
	PipelineID string `json:"pipeline_id"`
	StepNumber int    `json:"step_number,omitempty"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
}

// StepStarted signals a step entered the running state. Receiving it for a
// step that already has content means the step restarted (retry).
type StepStarted struct {
	PipelineID string `json:"pipeline_id"`
	StepNumber int    `json:"step_number"`
	StepName   string `json:"step_name,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// StepCompleted signals a step finished. NextStep is the server-declared next
// step number; 0 means this was the terminal step.
type StepCompleted struct {
	PipelineID string  `json:"pipeline_id"`
	StepNumber int     `json:"step_number"`
	NextStep   int     `json:"next_step,omitempty"`
	Tokens     int     `json:"tokens"`
	Cost       float64 `json:"cost"`
	Timestamp  string  `json:"timestamp"`
}

// StepSkipped signals a step was skipped with a reason.
type StepSkipped struct {
	PipelineID string `json:"pipeline_id"`
	StepNumber int    `json:"step_number"`
	NextStep   int    `json:"next_step,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Token carries an incremental fragment of generated text for the running step.
type Token struct {
	PipelineID string `json:"pipeline_id"`
	StepNumber int    `json:"step_number"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// ToolCallStarted signals a discrete tool invocation mid-step. ToolUseID is
// optional; when present it is the key that associates subagent activity.
type ToolCallStarted struct {
	PipelineID string         `json:"pipeline_id"`
	StepNumber int            `json:"step_number"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	ToolUseID  string         `json:"tool_use_id,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// SubagentText carries a text fragment emitted by a subagent nested under the
// tool invocation identified by ParentToolUseID.
type SubagentText struct {
	PipelineID      string `json:"pipeline_id"`
	StepNumber      int    `json:"step_number"`
	ParentToolUseID string `json:"parent_tool_use_id"`
	Content         string `json:"content"`
	Timestamp       string `json:"timestamp"`
}

// SubagentToolCall carries a tool invocation made by a nested subagent.
type SubagentToolCall struct {
	PipelineID      string         `json:"pipeline_id"`
	StepNumber      int            `json:"step_number"`
	ParentToolUseID string         `json:"parent_tool_use_id"`
	ToolName        string         `json:"tool_name"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	ToolUseID       string         `json:"tool_use_id,omitempty"`
	Timestamp       string         `json:"timestamp"`
}

// SubagentCompleted is the terminal signal for a subagent activity group.
type SubagentCompleted struct {
	PipelineID      string `json:"pipeline_id"`
	StepNumber      int    `json:"step_number"`
	ParentToolUseID string `json:"parent_tool_use_id"`
	Timestamp       string `json:"timestamp"`
}

// ClarificationRequested signals the agent paused its step waiting for input.
type ClarificationRequested struct {
	PipelineID string `json:"pipeline_id"`
	StepNumber int    `json:"step_number"`
	Question   string `json:"question"`
	Timestamp  string `json:"timestamp"`
}

// ClarificationAnswered signals the pending clarification was answered.
type ClarificationAnswered struct {
	PipelineID string `json:"pipeline_id"`
	StepNumber int    `json:"step_number"`
	Timestamp  string `json:"timestamp"`
}

// ReviewStarted signals the pipeline is waiting on an external review.
type ReviewStarted struct {
	PipelineID string `json:"pipeline_id"`
	Timestamp  string `json:"timestamp"`
}

// ReviewCompleted signals the external review finished.
type ReviewCompleted struct {
	PipelineID string `json:"pipeline_id"`
	Approved   bool   `json:"approved"`
	Timestamp  string `json:"timestamp"`
}

// TicketSync notifies that a ticket's server-side record changed and should
// be refetched by whoever displays it.
type TicketSync struct {
	TicketKey string `json:"ticket_key"`
	Timestamp string `json:"timestamp"`
}

// OfflineEventNotice delivers an event that occurred while this client's
// session was disconnected. It stays queued until acknowledged by id.
type OfflineEventNotice struct {
	EventID    string         `json:"event_id"`
	Category   string         `json:"category"`
	PipelineID string         `json:"pipeline_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt string         `json:"occurred_at"`
}

func (ConnectionEstablished) eventType() string  { return TypeConnectionEstablished }
func (PipelineStarted) eventType() string        { return TypePipelineStarted }
func (PipelinePaused) eventType() string         { return TypePipelinePaused }
func (PipelineResumed) eventType() string        { return TypePipelineResumed }
func (PipelineCompleted) eventType() string      { return TypePipelineCompleted }
func (PipelineFailed) eventType() string         { return TypePipelineFailed }
func (StepStarted) eventType() string            { return TypeStepStarted }
func (StepCompleted) eventType() string          { return TypeStepCompleted }
func (StepSkipped) eventType() string            { return TypeStepSkipped }
func (Token) eventType() string                  { return TypeToken }
func (ToolCallStarted) eventType() string        { return TypeToolCallStarted }
func (SubagentText) eventType() string           { return TypeSubagentText }
func (SubagentToolCall) eventType() string       { return TypeSubagentToolCall }
func (SubagentCompleted) eventType() string      { return TypeSubagentCompleted }
func (ClarificationRequested) eventType() string { return TypeClarificationRequested }
func (ClarificationAnswered) eventType() string  { return TypeClarificationAnswered }
func (ReviewStarted) eventType() string          { return TypeReviewStarted }
func (ReviewCompleted) eventType() string        { return TypeReviewCompleted }
func (TicketSync) eventType() string             { return TypeTicketSync }
func (OfflineEventNotice) eventType() string     { return TypeOfflineEvent }

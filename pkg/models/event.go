package models

import "time"

// StepEventKind discriminates the two StepEvent variants.
type StepEventKind string

const (
	StepEventText     StepEventKind = "text"
	StepEventToolCall StepEventKind = "tool_call"
)

// StepEvent is one entry in a step's event log: either a run of generated
// text or a discrete tool invocation. Ordering within a step is significant.
type StepEvent struct {
	Kind      StepEventKind  `json:"kind"`
	Content   string         `json:"content,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Text builds a text log entry.
func Text(content string, ts time.Time) StepEvent {
	return StepEvent{Kind: StepEventText, Content: content, Timestamp: ts}
}

// ToolCall builds a tool-call log entry.
func ToolCall(name string, args map[string]any, toolUseID string, ts time.Time) StepEvent {
	return StepEvent{
		Kind:      StepEventToolCall,
		ToolName:  name,
		Arguments: args,
		ToolUseID: toolUseID,
		Timestamp: ts,
	}
}

// SubagentStatus represents the lifecycle state of a subagent activity group.
type SubagentStatus string

const (
	SubagentRunning   SubagentStatus = "running"
	SubagentCompleted SubagentStatus = "completed"
)

// SubagentActivity collects the nested events emitted by a subagent while its
// parent Task-type tool invocation is open. Keyed by the parent invocation's
// tool-use id.
type SubagentActivity struct {
	ParentToolUseID string         `json:"parent_tool_use_id"`
	Status          SubagentStatus `json:"status"`
	Events          []StepEvent    `json:"events"`
}

package stream

import (
	"time"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
)

// applySubagentEvent appends a nested event to the activity group for a
// parent tool-use id, lazily creating the group with status running on the
// first event seen for that id. Caller holds the store lock.
func (s *Store) applySubagentEvent(pipelineID string, stepNumber int, parentID string, evt models.StepEvent) {
	st := s.step(pipelineID, stepNumber)
	if st == nil {
		s.logger.Debug("subagent event for unknown step",
			"pipeline_id", pipelineID, "step", stepNumber)
		return
	}
	sa := s.subagent(st, parentID)
	sa.Events = append(sa.Events, evt)
}

// applySubagentCompleted marks the group completed without altering its
// collected events. A terminal signal for an unseen parent id still creates
// the (empty) group so late lookups see a terminal state.
func (s *Store) applySubagentCompleted(e protocol.SubagentCompleted) {
	st := s.step(e.PipelineID, e.StepNumber)
	if st == nil {
		return
	}
	sa := s.subagent(st, e.ParentToolUseID)
	sa.Status = models.SubagentCompleted
}

// subagent returns the activity group for a parent id, creating it if needed.
// Caller holds the store lock.
func (s *Store) subagent(st *StepState, parentID string) *models.SubagentActivity {
	if sa, ok := st.subagents[parentID]; ok {
		return sa
	}
	sa := &models.SubagentActivity{
		ParentToolUseID: parentID,
		Status:          models.SubagentRunning,
	}
	st.subagents[parentID] = sa
	st.subagentOrder = append(st.subagentOrder, parentID)
	return sa
}

// InstallFrozen replaces a step's frozen completed view wholesale with an
// authoritative server snapshot. The live log is never touched, so events
// produced by the live stream for the active step cannot be duplicated, and
// re-installing the same snapshot is idempotent.
func (s *Store) InstallFrozen(pipelineID string, stepNumber int, events []models.StepEvent, frozenAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.step(pipelineID, stepNumber)
	if st == nil {
		return
	}
	st.Frozen = copyEvents(events)
	st.FrozenAt = frozenAt
	st.FlatText = flatten(events)
}

// InstallFlatFallback installs the legacy flat text/tool-call view for steps
// persisted before the structured event format existed.
func (s *Store) InstallFlatFallback(pipelineID string, stepNumber int, content string, toolCalls []models.StepEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.step(pipelineID, stepNumber)
	if st == nil {
		return
	}
	var events []models.StepEvent
	if content != "" {
		events = append(events, models.Text(content, st.FrozenAt))
	}
	events = append(events, copyEvents(toolCalls)...)
	st.Frozen = events
	st.FlatText = content
}

// ReplayToolCalls seeds the running step's live log with its persisted
// tool-call history so a reload mid-step does not lose tool-call context.
// The replay only happens into an empty live log: once live events exist the
// log already embeds that context, which also makes repeated reconciliation
// runs idempotent.
func (s *Store) ReplayToolCalls(pipelineID string, stepNumber int, calls []models.StepEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.step(pipelineID, stepNumber)
	if st == nil || len(st.Live) > 0 {
		return
	}
	st.Live = copyEvents(calls)
}

// InstallSubagentHistory replaces the activity group for a parent id with
// bulk-loaded history. Loaded groups are always terminal.
func (s *Store) InstallSubagentHistory(pipelineID string, stepNumber int, parentID string, events []models.StepEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.step(pipelineID, stepNumber)
	if st == nil {
		return
	}
	sa := s.subagent(st, parentID)
	sa.Events = copyEvents(events)
	sa.Status = models.SubagentCompleted
}

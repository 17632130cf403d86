package stream

import (
	"time"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
)

// Apply folds one decoded socket event into the store. Events referencing an
// unknown pipeline or step are dropped with a debug log — remote data never
// crashes the reducer. Variants with no reducer-side meaning (connection
// acknowledgement, ticket sync, offline notices) are explicitly ignored here;
// they are handled by other components.
func (s *Store) Apply(evt protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := evt.(type) {
	case protocol.StepStarted:
		s.applyStepStarted(e)
	case protocol.Token:
		s.applyToken(e)
	case protocol.ToolCallStarted:
		s.applyToolCall(e)
	case protocol.StepCompleted:
		s.applyStepCompleted(e)
	case protocol.StepSkipped:
		s.applyStepSkipped(e)
	case protocol.PipelineStarted:
		s.setPipelineStatus(e.PipelineID, models.PipelineRunning)
	case protocol.PipelinePaused:
		s.applyPipelinePaused(e)
	case protocol.PipelineResumed:
		s.applyPipelineResumed(e)
	case protocol.PipelineCompleted:
		s.setPipelineStatus(e.PipelineID, models.PipelineCompleted)
	case protocol.PipelineFailed:
		s.applyPipelineFailed(e)
	case protocol.ClarificationRequested:
		s.applyClarificationRequested(e)
	case protocol.ClarificationAnswered:
		s.applyClarificationAnswered(e)
	case protocol.ReviewStarted:
		s.setPipelineStatus(e.PipelineID, models.PipelineWaitingReview)
	case protocol.ReviewCompleted:
		s.setPipelineStatus(e.PipelineID, models.PipelineRunning)
	case protocol.SubagentText:
		s.applySubagentEvent(e.PipelineID, e.StepNumber, e.ParentToolUseID,
			models.Text(e.Content, protocol.ParseTimestamp(e.Timestamp)))
	case protocol.SubagentToolCall:
		s.applySubagentEvent(e.PipelineID, e.StepNumber, e.ParentToolUseID,
			models.ToolCall(e.ToolName, e.Arguments, e.ToolUseID, protocol.ParseTimestamp(e.Timestamp)))
	case protocol.SubagentCompleted:
		s.applySubagentCompleted(e)
	case protocol.ConnectionEstablished, protocol.TicketSync, protocol.OfflineEventNotice:
		// Not reducer state. Connection acks belong to the transport, ticket
		// sync to the presentation layer, offline notices to the session
		// manager.
	}
}

// applyStepStarted clears the step's live log and subagent index (supporting
// retries), marks it running, and demotes any earlier step still marked
// running — a missed or out-of-order completion frame must not leave two
// steps running at once.
func (s *Store) applyStepStarted(e protocol.StepStarted) {
	ps, ok := s.pipelines[e.PipelineID]
	if !ok {
		s.logger.Debug("step_started for unknown pipeline", "pipeline_id", e.PipelineID)
		return
	}
	st := ps.Steps[e.StepNumber]
	if st == nil {
		s.logger.Debug("step_started for unknown step",
			"pipeline_id", e.PipelineID, "step", e.StepNumber)
		return
	}

	if len(st.Live) > 0 || st.Frozen != nil || st.Step.Status == models.StepFailed {
		st.Step.RetryCount++
	}
	st.Live = nil
	st.Frozen = nil
	st.FrozenAt = time.Time{}
	st.FlatText = ""
	st.Step.Error = ""
	st.subagents = make(map[string]*models.SubagentActivity)
	st.subagentOrder = nil
	if e.StepName != "" {
		st.Step.Name = e.StepName
	}
	st.Step.Status = models.StepRunning

	for n, other := range ps.Steps {
		if n < e.StepNumber && other.Step.Status == models.StepRunning {
			other.Step.Status = models.StepCompleted
		}
	}

	ps.Pipeline.CurrentStep = e.StepNumber
	ps.Pipeline.Status = models.PipelineRunning
}

// applyToken appends text to the step's live log, coalescing into the most
// recent entry when it is already text. A tool call is a hard boundary: text
// runs on either side of one are never merged. Tokens arriving for an
// already-completed step still land in the (never read) live log.
func (s *Store) applyToken(e protocol.Token) {
	st := s.step(e.PipelineID, e.StepNumber)
	if st == nil {
		s.logger.Debug("token for unknown step",
			"pipeline_id", e.PipelineID, "step", e.StepNumber)
		return
	}

	if n := len(st.Live); n > 0 && st.Live[n-1].Kind == models.StepEventText {
		st.Live[n-1].Content += e.Content
		return
	}
	st.Live = append(st.Live, models.Text(e.Content, protocol.ParseTimestamp(e.Timestamp)))
}

// applyToolCall appends a tool-call entry. Tool calls are never coalesced.
func (s *Store) applyToolCall(e protocol.ToolCallStarted) {
	st := s.step(e.PipelineID, e.StepNumber)
	if st == nil {
		s.logger.Debug("tool_call_started for unknown step",
			"pipeline_id", e.PipelineID, "step", e.StepNumber)
		return
	}
	st.Live = append(st.Live,
		models.ToolCall(e.ToolName, e.Arguments, e.ToolUseID, protocol.ParseTimestamp(e.Timestamp)))
}

// applyStepCompleted freezes the live log into the step's immutable completed
// view, derives the flattened text, advances the pipeline pointer to the
// server-declared next step, and accumulates token/cost totals. Totals are
// additive on purpose: historical totals may come from a different source
// than the live stream, so they are never recomputed from scratch.
func (s *Store) applyStepCompleted(e protocol.StepCompleted) {
	ps, ok := s.pipelines[e.PipelineID]
	if !ok {
		s.logger.Debug("step_completed for unknown pipeline", "pipeline_id", e.PipelineID)
		return
	}
	st := ps.Steps[e.StepNumber]
	if st == nil {
		s.logger.Debug("step_completed for unknown step",
			"pipeline_id", e.PipelineID, "step", e.StepNumber)
		return
	}

	st.Frozen = copyEvents(st.Live)
	st.FrozenAt = protocol.ParseTimestamp(e.Timestamp)
	st.FlatText = flatten(st.Live)
	st.Live = nil
	st.Step.Status = models.StepCompleted
	st.Step.Tokens = e.Tokens
	st.Step.Cost = e.Cost

	if e.NextStep > 0 {
		ps.Pipeline.CurrentStep = e.NextStep
	}
	ps.Pipeline.TotalTokens += e.Tokens
	ps.Pipeline.TotalCost += e.Cost
}

// applyStepSkipped marks the step skipped with its reason and, unlike a
// completion, promotes the next step to running directly — skipped steps do
// not get their own step_started frame.
func (s *Store) applyStepSkipped(e protocol.StepSkipped) {
	ps, ok := s.pipelines[e.PipelineID]
	if !ok {
		return
	}
	st := ps.Steps[e.StepNumber]
	if st == nil {
		return
	}

	st.Step.Status = models.StepSkipped
	st.Step.SkipReason = e.Reason

	if e.NextStep > 0 {
		ps.Pipeline.CurrentStep = e.NextStep
		if next := ps.Steps[e.NextStep]; next != nil {
			next.Step.Status = models.StepRunning
		}
	}
}

// applyPipelineFailed records the failure on both the pipeline and the step
// the server attributes it to. Prior output is kept.
func (s *Store) applyPipelineFailed(e protocol.PipelineFailed) {
	ps, ok := s.pipelines[e.PipelineID]
	if !ok {
		return
	}
	ps.Pipeline.Status = models.PipelineFailed
	if st := ps.Steps[e.StepNumber]; st != nil {
		st.Step.Status = models.StepFailed
		st.Step.Error = e.Error
	}
}

func (s *Store) applyPipelinePaused(e protocol.PipelinePaused) {
	ps, ok := s.pipelines[e.PipelineID]
	if !ok {
		return
	}
	ps.Pipeline.Status = models.PipelinePaused
	if st := ps.Steps[ps.Pipeline.CurrentStep]; st != nil && st.Step.Status == models.StepRunning {
		st.Step.Status = models.StepPaused
	}
}

func (s *Store) applyPipelineResumed(e protocol.PipelineResumed) {
	ps, ok := s.pipelines[e.PipelineID]
	if !ok {
		return
	}
	ps.Pipeline.Status = models.PipelineRunning
	if st := ps.Steps[ps.Pipeline.CurrentStep]; st != nil && st.Step.Status == models.StepPaused {
		st.Step.Status = models.StepRunning
	}
}

// applyClarificationRequested parks the owning step and the pipeline until
// the matching answer event reverses both.
func (s *Store) applyClarificationRequested(e protocol.ClarificationRequested) {
	ps, ok := s.pipelines[e.PipelineID]
	if !ok {
		return
	}
	ps.Pipeline.Status = models.PipelineNeedsUserInput
	if st := ps.Steps[e.StepNumber]; st != nil {
		st.Step.Status = models.StepWaiting
	}
}

func (s *Store) applyClarificationAnswered(e protocol.ClarificationAnswered) {
	ps, ok := s.pipelines[e.PipelineID]
	if !ok {
		return
	}
	ps.Pipeline.Status = models.PipelineRunning
	if st := ps.Steps[e.StepNumber]; st != nil && st.Step.Status == models.StepWaiting {
		st.Step.Status = models.StepRunning
	}
}

func (s *Store) setPipelineStatus(pipelineID string, status models.PipelineStatus) {
	ps, ok := s.pipelines[pipelineID]
	if !ok {
		s.logger.Debug("status event for unknown pipeline", "pipeline_id", pipelineID)
		return
	}
	ps.Pipeline.Status = status
}

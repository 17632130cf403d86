package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
)

func newTestStore(t *testing.T, stepCount int) *Store {
	t.Helper()

	s := NewStore(nil)
	steps := make([]models.Step, 0, stepCount)
	for i := 1; i <= stepCount; i++ {
		steps = append(steps, models.Step{
			ID:         "s" + string(rune('0'+i)),
			PipelineID: "p1",
			Number:     i,
			Status:     models.StepPending,
		})
	}
	s.RegisterPipeline(models.Pipeline{
		ID:          "p1",
		TicketKey:   "PROJ-7",
		CurrentStep: 1,
		Status:      models.PipelinePending,
	}, steps)
	return s
}

func stepSnap(t *testing.T, s *Store, number int) StepSnapshot {
	t.Helper()
	snap, ok := s.Snapshot("p1")
	require.True(t, ok)
	for _, st := range snap.Steps {
		if st.Step.Number == number {
			return st
		}
	}
	t.Fatalf("no step %d in snapshot", number)
	return StepSnapshot{}
}

func TestApply_TokenCoalescing(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})

	// Consecutive tokens merge into one text entry; a tool call is a hard
	// boundary, so text after it starts a fresh entry.
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "Hel"})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "lo"})
	s.Apply(protocol.ToolCallStarted{PipelineID: "p1", StepNumber: 1, ToolName: "Search", ToolUseID: "tu-1"})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: " world"})

	live := stepSnap(t, s, 1).Live
	require.Len(t, live, 3)
	assert.Equal(t, models.StepEventText, live[0].Kind)
	assert.Equal(t, "Hello", live[0].Content)
	assert.Equal(t, models.StepEventToolCall, live[1].Kind)
	assert.Equal(t, "Search", live[1].ToolName)
	assert.Equal(t, models.StepEventText, live[2].Kind)
	assert.Equal(t, " world", live[2].Content)
}

func TestApply_CoalescingPreservesConcatenation(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})

	parts := []string{"The ", "quick", " brown", " fox"}
	for _, p := range parts {
		s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: p})
	}
	s.Apply(protocol.StepCompleted{PipelineID: "p1", StepNumber: 1, Tokens: 4, Cost: 0.001})

	st := stepSnap(t, s, 1)
	assert.Equal(t, "The quick brown fox", st.FlatText)
	require.Len(t, st.Frozen, 1)
	assert.Equal(t, "The quick brown fox", st.Frozen[0].Content)
}

func TestApply_StepCompletedFreezesLiveLog(t *testing.T) {
	s := newTestStore(t, 2)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "Hello"})
	s.Apply(protocol.ToolCallStarted{PipelineID: "p1", StepNumber: 1, ToolName: "Search", Arguments: map[string]any{}})

	s.Apply(protocol.StepCompleted{
		PipelineID: "p1", StepNumber: 1, NextStep: 2, Tokens: 10, Cost: 0.01,
		Timestamp: "2026-08-30T10:00:00Z",
	})

	st := stepSnap(t, s, 1)
	assert.Empty(t, st.Live)
	require.Len(t, st.Frozen, 2)
	assert.Equal(t, "Hello", st.Frozen[0].Content)
	assert.Equal(t, "Search", st.Frozen[1].ToolName)
	assert.Equal(t, "Hello", st.FlatText)
	assert.Equal(t, models.StepCompleted, st.Step.Status)
	assert.Equal(t, 10, st.Step.Tokens)
	assert.InDelta(t, 0.01, st.Step.Cost, 1e-9)
	assert.False(t, st.FrozenAt.IsZero())

	p, ok := s.Pipeline("p1")
	require.True(t, ok)
	assert.Equal(t, 2, p.CurrentStep)
	assert.Equal(t, 10, p.TotalTokens)
	assert.InDelta(t, 0.01, p.TotalCost, 1e-9)
}

func TestApply_TotalsAreAdditive(t *testing.T) {
	s := NewStore(nil)
	// Historical totals arrived via REST; live completions add on top.
	s.RegisterPipeline(models.Pipeline{
		ID: "p1", CurrentStep: 3, Status: models.PipelineRunning,
		TotalTokens: 500, TotalCost: 0.25,
	}, []models.Step{{Number: 3, Status: models.StepRunning}})

	s.Apply(protocol.StepCompleted{PipelineID: "p1", StepNumber: 3, Tokens: 10, Cost: 0.01})

	p, _ := s.Pipeline("p1")
	assert.Equal(t, 510, p.TotalTokens)
	assert.InDelta(t, 0.26, p.TotalCost, 1e-9)
}

func TestApply_StepStartedClearsPriorState(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "partial"})
	s.Apply(protocol.SubagentText{PipelineID: "p1", StepNumber: 1, ParentToolUseID: "tu-1", Content: "nested"})
	s.Apply(protocol.StepCompleted{PipelineID: "p1", StepNumber: 1, Tokens: 5, Cost: 0.002})

	// Restart of a step that already produced content: a retry.
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1, StepName: "analyze"})

	st := stepSnap(t, s, 1)
	assert.Empty(t, st.Live)
	assert.Empty(t, st.Frozen)
	assert.Empty(t, st.FlatText)
	assert.Empty(t, st.Subagents)
	assert.Equal(t, models.StepRunning, st.Step.Status)
	assert.Equal(t, "analyze", st.Step.Name)
	assert.Equal(t, 1, st.Step.RetryCount)
}

func TestApply_StepStartedDemotesEarlierRunningStep(t *testing.T) {
	s := newTestStore(t, 3)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})

	// The completion frame for step 1 was lost; step 2 starting must not
	// leave two steps running.
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 2})

	assert.Equal(t, models.StepCompleted, stepSnap(t, s, 1).Step.Status)
	assert.Equal(t, models.StepRunning, stepSnap(t, s, 2).Step.Status)

	p, _ := s.Pipeline("p1")
	assert.Equal(t, 2, p.CurrentStep)
	assert.Equal(t, models.PipelineRunning, p.Status)
}

func TestApply_StepSkippedPromotesNextStep(t *testing.T) {
	s := newTestStore(t, 3)
	s.Apply(protocol.StepSkipped{PipelineID: "p1", StepNumber: 2, NextStep: 3, Reason: "nothing to review"})

	st := stepSnap(t, s, 2)
	assert.Equal(t, models.StepSkipped, st.Step.Status)
	assert.Equal(t, "nothing to review", st.Step.SkipReason)

	// Skipped steps get no step_started frame of their own; the next step
	// is promoted directly.
	assert.Equal(t, models.StepRunning, stepSnap(t, s, 3).Step.Status)
	p, _ := s.Pipeline("p1")
	assert.Equal(t, 3, p.CurrentStep)
}

func TestApply_PipelineFailedKeepsPriorOutput(t *testing.T) {
	s := newTestStore(t, 2)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "got this far"})

	s.Apply(protocol.PipelineFailed{PipelineID: "p1", StepNumber: 1, Error: "tool exploded"})

	st := stepSnap(t, s, 1)
	assert.Equal(t, models.StepFailed, st.Step.Status)
	assert.Equal(t, "tool exploded", st.Step.Error)
	require.Len(t, st.Live, 1)
	assert.Equal(t, "got this far", st.Live[0].Content)

	p, _ := s.Pipeline("p1")
	assert.Equal(t, models.PipelineFailed, p.Status)
}

func TestApply_PauseResumeFlipsCurrentStep(t *testing.T) {
	s := newTestStore(t, 2)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})

	s.Apply(protocol.PipelinePaused{PipelineID: "p1"})
	assert.Equal(t, models.StepPaused, stepSnap(t, s, 1).Step.Status)
	p, _ := s.Pipeline("p1")
	assert.Equal(t, models.PipelinePaused, p.Status)

	s.Apply(protocol.PipelineResumed{PipelineID: "p1"})
	assert.Equal(t, models.StepRunning, stepSnap(t, s, 1).Step.Status)
	p, _ = s.Pipeline("p1")
	assert.Equal(t, models.PipelineRunning, p.Status)
}

func TestApply_ClarificationRoundTrip(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})

	s.Apply(protocol.ClarificationRequested{PipelineID: "p1", StepNumber: 1, Question: "which env?"})
	assert.Equal(t, models.StepWaiting, stepSnap(t, s, 1).Step.Status)
	p, _ := s.Pipeline("p1")
	assert.Equal(t, models.PipelineNeedsUserInput, p.Status)

	s.Apply(protocol.ClarificationAnswered{PipelineID: "p1", StepNumber: 1})
	assert.Equal(t, models.StepRunning, stepSnap(t, s, 1).Step.Status)
	p, _ = s.Pipeline("p1")
	assert.Equal(t, models.PipelineRunning, p.Status)
}

func TestApply_ReviewLifecycle(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.ReviewStarted{PipelineID: "p1"})
	p, _ := s.Pipeline("p1")
	assert.Equal(t, models.PipelineWaitingReview, p.Status)

	s.Apply(protocol.ReviewCompleted{PipelineID: "p1", Approved: true})
	p, _ = s.Pipeline("p1")
	assert.Equal(t, models.PipelineRunning, p.Status)
}

func TestApply_UnknownPipelineOrStepIsDropped(t *testing.T) {
	s := newTestStore(t, 1)

	assert.NotPanics(t, func() {
		s.Apply(protocol.Token{PipelineID: "ghost", StepNumber: 1, Content: "x"})
		s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 99, Content: "x"})
		s.Apply(protocol.StepCompleted{PipelineID: "ghost", StepNumber: 1})
	})

	st := stepSnap(t, s, 1)
	assert.Empty(t, st.Live)
}

func TestApply_PipelineCompletedIsStatusOnly(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.StepCompleted{PipelineID: "p1", StepNumber: 1, Tokens: 7, Cost: 0.003})

	// The server's final totals ride on the completion event, but the
	// reducer keeps its additive bookkeeping untouched.
	s.Apply(protocol.PipelineCompleted{PipelineID: "p1", TotalTokens: 9999, TotalCost: 42})

	p, _ := s.Pipeline("p1")
	assert.Equal(t, models.PipelineCompleted, p.Status)
	assert.Equal(t, 7, p.TotalTokens)
	assert.InDelta(t, 0.003, p.TotalCost, 1e-9)
}

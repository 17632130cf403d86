package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
)

func TestSubagent_LazyGroupCreation(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})

	_, ok := s.Subagent("p1", 1, "tu-1")
	assert.False(t, ok, "no activity seen yet")

	s.Apply(protocol.SubagentText{PipelineID: "p1", StepNumber: 1, ParentToolUseID: "tu-1", Content: "inspecting"})

	sa, ok := s.Subagent("p1", 1, "tu-1")
	require.True(t, ok)
	assert.Equal(t, models.SubagentRunning, sa.Status)
	require.Len(t, sa.Events, 1)
	assert.Equal(t, "inspecting", sa.Events[0].Content)
}

func TestSubagent_CompletedIsTerminal(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.SubagentToolCall{PipelineID: "p1", StepNumber: 1, ParentToolUseID: "tu-1", ToolName: "Read"})
	s.Apply(protocol.SubagentCompleted{PipelineID: "p1", StepNumber: 1, ParentToolUseID: "tu-1"})

	sa, ok := s.Subagent("p1", 1, "tu-1")
	require.True(t, ok)
	assert.Equal(t, models.SubagentCompleted, sa.Status)
	require.Len(t, sa.Events, 1)
	assert.Equal(t, "Read", sa.Events[0].ToolName)
}

func TestSubagent_GroupsKeyedByParentID(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.SubagentText{PipelineID: "p1", StepNumber: 1, ParentToolUseID: "tu-1", Content: "a"})
	s.Apply(protocol.SubagentText{PipelineID: "p1", StepNumber: 1, ParentToolUseID: "tu-2", Content: "b"})
	s.Apply(protocol.SubagentText{PipelineID: "p1", StepNumber: 1, ParentToolUseID: "tu-1", Content: "c"})

	first, ok := s.Subagent("p1", 1, "tu-1")
	require.True(t, ok)
	require.Len(t, first.Events, 2)
	assert.Equal(t, "a", first.Events[0].Content)
	assert.Equal(t, "c", first.Events[1].Content)

	second, ok := s.Subagent("p1", 1, "tu-2")
	require.True(t, ok)
	require.Len(t, second.Events, 1)

	// Snapshot preserves first-seen order of groups.
	snap := stepSnap(t, s, 1)
	require.Len(t, snap.Subagents, 2)
	assert.Equal(t, "tu-1", snap.Subagents[0].ParentToolUseID)
	assert.Equal(t, "tu-2", snap.Subagents[1].ParentToolUseID)
}

func TestInstallFrozen_IsIdempotent(t *testing.T) {
	s := newTestStore(t, 2)
	frozenAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	events := []models.StepEvent{
		models.Text("Hello", frozenAt),
		models.ToolCall("Search", map[string]any{}, "tu-1", frozenAt),
	}

	s.InstallFrozen("p1", 1, events, frozenAt)
	s.InstallFrozen("p1", 1, events, frozenAt)

	st := stepSnap(t, s, 1)
	require.Len(t, st.Frozen, 2)
	assert.Equal(t, "Hello", st.Frozen[0].Content)
	assert.Equal(t, "Search", st.Frozen[1].ToolName)
	assert.Equal(t, "Hello", st.FlatText)
	assert.Equal(t, frozenAt, st.FrozenAt)
}

func TestInstallFrozen_NeverTouchesLiveLog(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "live text"})

	s.InstallFrozen("p1", 1, []models.StepEvent{models.Text("old run", time.Time{})}, time.Time{})

	st := stepSnap(t, s, 1)
	require.Len(t, st.Live, 1)
	assert.Equal(t, "live text", st.Live[0].Content)
	require.Len(t, st.Frozen, 1)
	assert.Equal(t, "old run", st.Frozen[0].Content)
}

func TestReplayToolCalls_OnlyIntoEmptyLiveLog(t *testing.T) {
	s := newTestStore(t, 1)
	calls := []models.StepEvent{
		models.ToolCall("Search", map[string]any{"q": "x"}, "tu-1", time.Time{}),
	}

	s.ReplayToolCalls("p1", 1, calls)
	st := stepSnap(t, s, 1)
	require.Len(t, st.Live, 1)
	assert.Equal(t, "Search", st.Live[0].ToolName)

	// A second reconciliation run must not duplicate the replayed calls.
	s.ReplayToolCalls("p1", 1, calls)
	st = stepSnap(t, s, 1)
	assert.Len(t, st.Live, 1)
}

func TestInstallFlatFallback(t *testing.T) {
	s := newTestStore(t, 1)
	calls := []models.StepEvent{
		models.ToolCall("Search", nil, "tu-1", time.Time{}),
	}

	s.InstallFlatFallback("p1", 1, "legacy output", calls)

	st := stepSnap(t, s, 1)
	require.Len(t, st.Frozen, 2)
	assert.Equal(t, models.StepEventText, st.Frozen[0].Kind)
	assert.Equal(t, "legacy output", st.Frozen[0].Content)
	assert.Equal(t, models.StepEventToolCall, st.Frozen[1].Kind)
	assert.Equal(t, "legacy output", st.FlatText)
}

func TestInstallSubagentHistory(t *testing.T) {
	s := newTestStore(t, 1)
	events := []models.StepEvent{
		models.Text("first", time.Time{}),
		models.ToolCall("Read", nil, "tu-9", time.Time{}),
	}

	s.InstallSubagentHistory("p1", 1, "tu-1", events)
	// Re-installing replaces wholesale rather than appending.
	s.InstallSubagentHistory("p1", 1, "tu-1", events)

	sa, ok := s.Subagent("p1", 1, "tu-1")
	require.True(t, ok)
	assert.Equal(t, models.SubagentCompleted, sa.Status)
	assert.Len(t, sa.Events, 2)
}

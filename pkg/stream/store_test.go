package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
)

func TestSnapshot_StepsOrderedByNumber(t *testing.T) {
	s := NewStore(nil)
	s.RegisterPipeline(models.Pipeline{ID: "p1"}, []models.Step{
		{Number: 3}, {Number: 1}, {Number: 2},
	})

	snap, ok := s.Snapshot("p1")
	require.True(t, ok)
	require.Len(t, snap.Steps, 3)
	for i, st := range snap.Steps {
		assert.Equal(t, i+1, st.Step.Number)
	}
}

func TestSnapshot_UnknownPipeline(t *testing.T) {
	s := NewStore(nil)
	_, ok := s.Snapshot("ghost")
	assert.False(t, ok)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "Hel"})

	snap, _ := s.Snapshot("p1")
	snap.Steps[0].Live[0].Content = "mutated"

	st := stepSnap(t, s, 1)
	assert.Equal(t, "Hel", st.Live[0].Content)
}

func TestSyncSteps_KeepsReducerState(t *testing.T) {
	s := newTestStore(t, 2)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "streamed"})

	// A reconciliation refresh replaces the step records but must not wipe
	// the live log built from the stream.
	s.SyncSteps("p1", []models.Step{
		{Number: 1, Name: "analyze", Status: models.StepRunning},
		{Number: 2, Name: "implement", Status: models.StepPending},
		{Number: 3, Name: "verify", Status: models.StepPending},
	})

	st := stepSnap(t, s, 1)
	assert.Equal(t, "analyze", st.Step.Name)
	require.Len(t, st.Live, 1)
	assert.Equal(t, "streamed", st.Live[0].Content)

	// New steps from the snapshot are added.
	snap, _ := s.Snapshot("p1")
	assert.Len(t, snap.Steps, 3)
}

func TestRegisterPipeline_ReplacesState(t *testing.T) {
	s := newTestStore(t, 1)
	s.Apply(protocol.StepStarted{PipelineID: "p1", StepNumber: 1})
	s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "old"})

	s.RegisterPipeline(models.Pipeline{ID: "p1", Status: models.PipelineRunning},
		[]models.Step{{Number: 1, Status: models.StepRunning}})

	st := stepSnap(t, s, 1)
	assert.Empty(t, st.Live)
}

func TestRemovePipeline(t *testing.T) {
	s := newTestStore(t, 1)
	s.RemovePipeline("p1")

	_, ok := s.Pipeline("p1")
	assert.False(t, ok)

	// Events for a removed pipeline are dropped quietly.
	assert.NotPanics(t, func() {
		s.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "x"})
	})
}

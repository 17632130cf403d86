// Package stream holds the client-side reducer state: per-step event logs
// built incrementally from the live socket stream, frozen views installed
// from server snapshots, and the subagent activity index.
//
// The Store is the single shared state container. All mutation goes through
// Apply (live events) or the reconciliation entry points (snapshot installs);
// both replace or append state under one lock, so readers always observe a
// consistent view.
package stream

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
)

// StepState is the reducer's working state for one step: the live append-only
// log, the immutable frozen view installed on completion, and the subagent
// activity groups spawned by this step's tool calls.
type StepState struct {
	Step     models.Step
	Live     []models.StepEvent
	Frozen   []models.StepEvent
	FrozenAt time.Time
	FlatText string

	subagents     map[string]*models.SubagentActivity
	subagentOrder []string
}

// PipelineState groups a pipeline record with its per-step reducer state.
type PipelineState struct {
	Pipeline models.Pipeline
	Steps    map[int]*StepState
}

// Store is the reducer state container for every pipeline the client watches.
type Store struct {
	mu        sync.RWMutex
	pipelines map[string]*PipelineState
	logger    *slog.Logger
}

// NewStore creates an empty Store. logger may be nil.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pipelines: make(map[string]*PipelineState),
		logger:    logger,
	}
}

// RegisterPipeline installs (or replaces) a pipeline record and its steps.
// Called with authoritative REST data before the live stream is consumed.
// Existing reducer state for the pipeline is discarded.
func (s *Store) RegisterPipeline(p models.Pipeline, steps []models.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := &PipelineState{
		Pipeline: p,
		Steps:    make(map[int]*StepState, len(steps)),
	}
	for _, st := range steps {
		ps.Steps[st.Number] = &StepState{
			Step:      st,
			subagents: make(map[string]*models.SubagentActivity),
		}
	}
	s.pipelines[p.ID] = ps
}

// SetPipeline refreshes the pipeline record without touching step state.
func (s *Store) SetPipeline(p models.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.pipelines[p.ID]
	if !ok {
		return
	}
	ps.Pipeline = p
}

// SyncSteps replaces step records wholesale with snapshot data while keeping
// each step's reducer state (live log, frozen view, subagent groups) intact.
// Steps the store has not seen yet are added.
func (s *Store) SyncSteps(pipelineID string, steps []models.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.pipelines[pipelineID]
	if !ok {
		return
	}
	for _, st := range steps {
		if existing := ps.Steps[st.Number]; existing != nil {
			existing.Step = st
			continue
		}
		ps.Steps[st.Number] = &StepState{
			Step:      st,
			subagents: make(map[string]*models.SubagentActivity),
		}
	}
}

// RemovePipeline drops all reducer state for a pipeline (navigation away).
func (s *Store) RemovePipeline(pipelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pipelines, pipelineID)
}

// Pipeline returns a copy of the pipeline record.
func (s *Store) Pipeline(pipelineID string) (models.Pipeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.pipelines[pipelineID]
	if !ok {
		return models.Pipeline{}, false
	}
	return ps.Pipeline, true
}

// StepSnapshot is a deep-copied read view of one step's reducer state.
type StepSnapshot struct {
	Step      models.Step               `json:"step"`
	Live      []models.StepEvent        `json:"live,omitempty"`
	Frozen    []models.StepEvent        `json:"frozen,omitempty"`
	FrozenAt  time.Time                 `json:"frozen_at,omitzero"`
	FlatText  string                    `json:"flat_text,omitempty"`
	Subagents []models.SubagentActivity `json:"subagents,omitempty"`
}

// PipelineSnapshot is a deep-copied read view of a whole pipeline.
type PipelineSnapshot struct {
	Pipeline models.Pipeline `json:"pipeline"`
	Steps    []StepSnapshot  `json:"steps"`
}

// Snapshot returns a consistent deep copy of the pipeline's state, with steps
// ordered by their ordinal number. The second return is false for unknown ids.
func (s *Store) Snapshot(pipelineID string) (PipelineSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.pipelines[pipelineID]
	if !ok {
		return PipelineSnapshot{}, false
	}

	snap := PipelineSnapshot{Pipeline: ps.Pipeline}
	numbers := make([]int, 0, len(ps.Steps))
	for n := range ps.Steps {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	for _, n := range numbers {
		st := ps.Steps[n]
		ss := StepSnapshot{
			Step:     st.Step,
			Live:     copyEvents(st.Live),
			Frozen:   copyEvents(st.Frozen),
			FrozenAt: st.FrozenAt,
			FlatText: st.FlatText,
		}
		for _, id := range st.subagentOrder {
			sa := st.subagents[id]
			ss.Subagents = append(ss.Subagents, models.SubagentActivity{
				ParentToolUseID: sa.ParentToolUseID,
				Status:          sa.Status,
				Events:          copyEvents(sa.Events),
			})
		}
		snap.Steps = append(snap.Steps, ss)
	}
	return snap, true
}

// Subagent returns a copy of the activity group for a parent tool-use id, or
// false if no activity has been seen for it yet ("starting" presentation).
func (s *Store) Subagent(pipelineID string, stepNumber int, parentToolUseID string) (models.SubagentActivity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.step(pipelineID, stepNumber)
	if st == nil {
		return models.SubagentActivity{}, false
	}
	sa, ok := st.subagents[parentToolUseID]
	if !ok {
		return models.SubagentActivity{}, false
	}
	return models.SubagentActivity{
		ParentToolUseID: sa.ParentToolUseID,
		Status:          sa.Status,
		Events:          copyEvents(sa.Events),
	}, true
}

// step looks up a step's state. Caller must hold the lock.
func (s *Store) step(pipelineID string, stepNumber int) *StepState {
	ps, ok := s.pipelines[pipelineID]
	if !ok {
		return nil
	}
	return ps.Steps[stepNumber]
}

func copyEvents(events []models.StepEvent) []models.StepEvent {
	if events == nil {
		return nil
	}
	out := make([]models.StepEvent, len(events))
	copy(out, events)
	return out
}

// flatten concatenates the text entries of an event log in order. Tool calls
// contribute nothing; they are hard boundaries between text runs.
func flatten(events []models.StepEvent) string {
	var b strings.Builder
	for _, e := range events {
		if e.Kind == models.StepEventText {
			b.WriteString(e.Content)
		}
	}
	return b.String()
}

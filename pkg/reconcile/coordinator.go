// Package reconcile merges authoritative REST snapshots with the live
// reducer state: on initial load, after a reconnect, and on explicit history
// reload. Snapshots always replace state wholesale — never append — so
// re-running reconciliation is idempotent and live events are never
// duplicated.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
	"github.com/codeready-toolchain/pipewatch/pkg/restapi"
	"github.com/codeready-toolchain/pipewatch/pkg/stream"
)

// API is the slice of the REST client the coordinator consumes.
type API interface {
	GetPipeline(ctx context.Context, pipelineID string) (models.Pipeline, error)
	ListSteps(ctx context.Context, pipelineID string) ([]models.Step, error)
	GetStepOutputs(ctx context.Context, pipelineID string) (map[int]restapi.StepOutput, error)
	GetSubagentCalls(ctx context.Context, pipelineID string) ([]restapi.SubagentCall, error)
}

// Coordinator produces a single consistent per-step view out of three
// sources: the structured completed-events snapshot, the legacy flat
// text/tool-call fallback, and the in-memory live log of the running step.
type Coordinator struct {
	api    API
	store  *stream.Store
	logger *slog.Logger

	// generation invalidates in-flight reconciliations when the user
	// navigates away; a superseded response is discarded instead of being
	// applied to whatever state happens to be current.
	generation atomic.Int64
}

// NewCoordinator creates a Coordinator. logger may be nil.
func NewCoordinator(api API, store *stream.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{api: api, store: store, logger: logger}
}

// Invalidate marks all in-flight reconciliations stale. Call on navigation.
func (c *Coordinator) Invalidate() {
	c.generation.Add(1)
}

// Reconcile fetches the server's snapshot for a pipeline and merges it into
// the store. Per step, in precedence order:
//
//  1. The server-declared running step gets its persisted tool-call history
//     replayed into the live reducer (only when the live log is empty), then
//     the live socket keeps appending.
//  2. A structured completed-events list is installed verbatim as the frozen
//     view, taking precedence over any flat fallback.
//  3. Otherwise legacy flat text/tool-calls are installed as the fallback.
//
// Subagent history is loaded in one batch, grouped by step then parent
// tool-use id, and installed with status completed.
func (c *Coordinator) Reconcile(ctx context.Context, pipelineID string) error {
	gen := c.generation.Load()

	pipeline, err := c.api.GetPipeline(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("fetch pipeline %s: %w", pipelineID, err)
	}
	steps, err := c.api.ListSteps(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("fetch steps for %s: %w", pipelineID, err)
	}
	outputs, err := c.api.GetStepOutputs(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("fetch step outputs for %s: %w", pipelineID, err)
	}
	calls, err := c.api.GetSubagentCalls(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("fetch subagent calls for %s: %w", pipelineID, err)
	}

	if gen != c.generation.Load() {
		c.logger.Debug("Discarding superseded reconciliation", "pipeline_id", pipelineID)
		return nil
	}

	if _, ok := c.store.Pipeline(pipelineID); !ok {
		c.store.RegisterPipeline(pipeline, steps)
	} else {
		c.store.SetPipeline(pipeline)
		c.store.SyncSteps(pipelineID, steps)
	}

	for _, step := range steps {
		out, hasOutput := outputs[step.Number]

		if step.Number == pipeline.CurrentStep && stepOpen(step.Status) {
			if hasOutput && len(out.ToolCalls) > 0 {
				c.store.ReplayToolCalls(pipelineID, step.Number, toolCallEvents(out.ToolCalls))
			}
			continue
		}
		if !hasOutput {
			continue
		}
		if len(out.Events) > 0 {
			events := wireEvents(out.Events)
			frozenAt := lastTimestamp(events)
			c.store.InstallFrozen(pipelineID, step.Number, events, frozenAt)
			continue
		}
		if out.Content != "" || len(out.ToolCalls) > 0 {
			c.store.InstallFlatFallback(pipelineID, step.Number, out.Content, toolCallEvents(out.ToolCalls))
		}
	}

	c.installSubagentHistory(pipelineID, calls)
	return nil
}

// installSubagentHistory groups the flat call list by step and parent
// tool-use id and installs each group as a completed activity.
func (c *Coordinator) installSubagentHistory(pipelineID string, calls []restapi.SubagentCall) {
	type groupKey struct {
		step   int
		parent string
	}
	groups := make(map[groupKey][]models.StepEvent)
	var order []groupKey
	for _, call := range calls {
		if call.ParentToolUseID == "" {
			continue
		}
		key := groupKey{step: call.StepNumber, parent: call.ParentToolUseID}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key],
			models.ToolCall(call.ToolName, call.Arguments, call.ToolUseID, protocol.ParseTimestamp(call.CreatedAt)))
	}
	for _, key := range order {
		c.store.InstallSubagentHistory(pipelineID, key.step, key.parent, groups[key])
	}
}

// stepOpen reports whether a step is still accepting live events.
func stepOpen(status models.StepStatus) bool {
	switch status {
	case models.StepRunning, models.StepPaused, models.StepWaiting:
		return true
	default:
		return false
	}
}

func wireEvents(events []restapi.WireEvent) []models.StepEvent {
	out := make([]models.StepEvent, 0, len(events))
	for _, e := range events {
		ts := protocol.ParseTimestamp(e.Timestamp)
		switch e.Type {
		case "text":
			out = append(out, models.Text(e.Content, ts))
		case "tool_call":
			out = append(out, models.ToolCall(e.ToolName, e.Arguments, e.ToolUseID, ts))
		}
	}
	return out
}

func toolCallEvents(calls []restapi.WireToolCall) []models.StepEvent {
	out := make([]models.StepEvent, 0, len(calls))
	for _, tc := range calls {
		out = append(out, models.ToolCall(tc.ToolName, tc.Arguments, tc.ToolUseID, protocol.ParseTimestamp(tc.CreatedAt)))
	}
	return out
}

func lastTimestamp(events []models.StepEvent) time.Time {
	if len(events) == 0 {
		return time.Time{}
	}
	return events[len(events)-1].Timestamp
}

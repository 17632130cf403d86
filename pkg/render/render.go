// Package render formats pipeline state for terminal output.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
	"github.com/codeready-toolchain/pipewatch/pkg/transport"
)

var (
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleWaiting   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	stylePending   = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	styleTool      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleDim       = lipgloss.NewStyle().Faint(true)
)

// StepBadge renders a colored status badge for a step.
func StepBadge(status models.StepStatus) string {
	switch status {
	case models.StepRunning:
		return styleRunning.Render("RUNNING")
	case models.StepCompleted:
		return styleCompleted.Render("DONE")
	case models.StepFailed:
		return styleFailed.Render("FAILED")
	case models.StepSkipped:
		return styleDim.Render("SKIPPED")
	case models.StepWaiting, models.StepPaused:
		return styleWaiting.Render(strings.ToUpper(string(status)))
	default:
		return stylePending.Render("PENDING")
	}
}

// ConnBadge renders the connection-status indicator.
func ConnBadge(status transport.Status) string {
	switch status {
	case transport.StatusConnected:
		return styleRunning.Render("connected")
	case transport.StatusConnecting:
		return styleWaiting.Render("connecting")
	default:
		return styleFailed.Render("disconnected")
	}
}

// EventLine formats one live event for the watcher's log output. Token
// events return an empty string: streamed text is printed raw by the caller
// for a typing effect, not as discrete lines.
func EventLine(evt protocol.Event) string {
	switch e := evt.(type) {
	case protocol.StepStarted:
		return fmt.Sprintf("%s step %d %s", styleRunning.Render("▶"), e.StepNumber, e.StepName)
	case protocol.StepCompleted:
		return fmt.Sprintf("%s step %d (%d tokens, $%.4f)",
			styleCompleted.Render("✓"), e.StepNumber, e.Tokens, e.Cost)
	case protocol.StepSkipped:
		return styleDim.Render(fmt.Sprintf("- step %d skipped: %s", e.StepNumber, e.Reason))
	case protocol.ToolCallStarted:
		return styleTool.Render(fmt.Sprintf("⚙ %s", e.ToolName))
	case protocol.SubagentToolCall:
		return styleDim.Render(fmt.Sprintf("  ⚙ %s (subagent)", e.ToolName))
	case protocol.PipelineCompleted:
		return styleRunning.Render(fmt.Sprintf("pipeline completed (%d tokens, $%.4f)", e.TotalTokens, e.TotalCost))
	case protocol.PipelineFailed:
		return styleFailed.Render("pipeline failed: " + e.Error)
	case protocol.ClarificationRequested:
		return styleWaiting.Render("? " + e.Question)
	default:
		return ""
	}
}

// Summary renders a one-line-per-step overview of a pipeline snapshot.
func Summary(snap models.Pipeline, steps []models.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pipeline %s [%s] %d tokens $%.4f\n",
		snap.ID, snap.Status, snap.TotalTokens, snap.TotalCost)
	for _, st := range steps {
		fmt.Fprintf(&b, "  %2d. %-24s %s\n", st.Number, st.Name, StepBadge(st.Status))
	}
	return b.String()
}

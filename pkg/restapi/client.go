// Package restapi is the outbound HTTP client for the pipeline server's REST
// API: point-in-time snapshots, session restore, and acknowledgements. It has
// no streaming or ordering concerns of its own; callers decide how responses
// merge with live state.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/version"
)

// Client provides HTTP access to the pipeline server.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a REST client for the given base URL.
// authToken may be empty (local development identity).
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
}

// GetPipeline fetches one pipeline record.
func (c *Client) GetPipeline(ctx context.Context, pipelineID string) (models.Pipeline, error) {
	var p models.Pipeline
	err := c.getJSON(ctx, "/api/pipelines/"+pipelineID, &p)
	return p, err
}

// ListSteps fetches the pipeline's step records.
func (c *Client) ListSteps(ctx context.Context, pipelineID string) ([]models.Step, error) {
	var resp struct {
		Steps []models.Step `json:"steps"`
	}
	if err := c.getJSON(ctx, "/api/pipelines/"+pipelineID+"/steps", &resp); err != nil {
		return nil, err
	}
	return resp.Steps, nil
}

// WireEvent is one entry of a step's persisted structured event list.
type WireEvent struct {
	Type      string         `json:"type"` // "text" or "tool_call"
	Content   string         `json:"content,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// WireToolCall is one entry of the legacy flat tool-call list.
type WireToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

// StepOutput is the persisted output for one step: the structured event list
// when available, plus the legacy flat content/tool-call fallback.
type StepOutput struct {
	Content   string         `json:"content"`
	Events    []WireEvent    `json:"events"`
	ToolCalls []WireToolCall `json:"tool_calls"`
}

// GetStepOutputs fetches the batch step-output snapshot, keyed by step number.
func (c *Client) GetStepOutputs(ctx context.Context, pipelineID string) (map[int]StepOutput, error) {
	var resp struct {
		Steps map[string]StepOutput `json:"steps"`
	}
	if err := c.getJSON(ctx, "/api/pipelines/"+pipelineID+"/steps/outputs", &resp); err != nil {
		return nil, err
	}

	outputs := make(map[int]StepOutput, len(resp.Steps))
	for key, out := range resp.Steps {
		n, err := strconv.Atoi(key)
		if err != nil {
			c.logger.Warn("Ignoring step output with non-numeric key", "key", key)
			continue
		}
		outputs[n] = out
	}
	return outputs, nil
}

// SubagentCall is one row of the batch subagent-call history.
type SubagentCall struct {
	StepNumber      int            `json:"step_number"`
	ParentToolUseID string         `json:"parent_tool_use_id"`
	ToolUseID       string         `json:"tool_use_id,omitempty"`
	ToolName        string         `json:"tool_name"`
	Arguments       map[string]any `json:"arguments,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
}

// GetSubagentCalls fetches the pipeline's subagent call history as a flat
// list; callers group by step and parent tool-use id.
func (c *Client) GetSubagentCalls(ctx context.Context, pipelineID string) ([]SubagentCall, error) {
	var resp struct {
		Calls []SubagentCall `json:"calls"`
	}
	if err := c.getJSON(ctx, "/api/pipelines/"+pipelineID+"/subagent-calls", &resp); err != nil {
		return nil, err
	}
	return resp.Calls, nil
}

// RestoreRequest carries the client's persisted view to the restore endpoint.
// SessionID is empty on first launch; the server then issues a new one.
type RestoreRequest struct {
	SessionID string       `json:"session_id,omitempty"`
	Tabs      []models.Tab `json:"tabs,omitempty"`
	ActiveTab string       `json:"active_tab,omitempty"`
}

// RestoreResponse is the server's authoritative view of the session.
type RestoreResponse struct {
	SessionID    string                `json:"session_id"`
	Tabs         []models.Tab          `json:"tabs"`
	ActiveTab    string                `json:"active_tab"`
	MissedEvents []models.OfflineEvent `json:"missed_events"`
}

// RestoreSession restores (or creates) the client session on the server.
func (c *Client) RestoreSession(ctx context.Context, req RestoreRequest) (RestoreResponse, error) {
	var resp RestoreResponse
	err := c.postJSON(ctx, "/api/sessions/restore", req, &resp)
	return resp, err
}

// AckEvents tells the server the given offline events were seen. Callers must
// only drop events locally after this returns nil — the "seen" signal is
// at-least-once.
func (c *Client) AckEvents(ctx context.Context, eventIDs []string) error {
	body := struct {
		EventIDs []string `json:"event_ids"`
	}{EventIDs: eventIDs}
	return c.postJSON(ctx, "/api/events/ack", body, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", version.Full())
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: server returned HTTP %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownType is returned by Decode for a frame whose "type" discriminator
// is not part of the protocol. Callers log and drop such frames.
var ErrUnknownType = errors.New("unknown event type")

type envelope struct {
	Type string `json:"type"`
}

// Decode converts one inbound frame into exactly one typed event.
// Malformed JSON and unknown discriminators are reported as errors, never
// panics — the transport keeps running regardless of what the server sends.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	var (
		evt Event
		err error
	)
	switch env.Type {
	case TypeConnectionEstablished:
		evt, err = decodeAs[ConnectionEstablished](data)
	case TypePipelineStarted:
		evt, err = decodeAs[PipelineStarted](data)
	case TypePipelinePaused:
		evt, err = decodeAs[PipelinePaused](data)
	case TypePipelineResumed:
		evt, err = decodeAs[PipelineResumed](data)
	case TypePipelineCompleted:
		evt, err = decodeAs[PipelineCompleted](data)
	case TypePipelineFailed:
		evt, err = decodeAs[PipelineFailed](data)
	case TypeStepStarted:
		evt, err = decodeAs[StepStarted](data)
	case TypeStepCompleted:
		evt, err = decodeAs[StepCompleted](data)
	case TypeStepSkipped:
		evt, err = decodeAs[StepSkipped](data)
	case TypeToken:
		evt, err = decodeAs[Token](data)
	case TypeToolCallStarted:
		evt, err = decodeAs[ToolCallStarted](data)
	case TypeSubagentText:
		evt, err = decodeAs[SubagentText](data)
	case TypeSubagentToolCall:
		evt, err = decodeAs[SubagentToolCall](data)
	case TypeSubagentCompleted:
		evt, err = decodeAs[SubagentCompleted](data)
	case TypeClarificationRequested:
		evt, err = decodeAs[ClarificationRequested](data)
	case TypeClarificationAnswered:
		evt, err = decodeAs[ClarificationAnswered](data)
	case TypeReviewStarted:
		evt, err = decodeAs[ReviewStarted](data)
	case TypeReviewCompleted:
		evt, err = decodeAs[ReviewCompleted](data)
	case TypeTicketSync:
		evt, err = decodeAs[TicketSync](data)
	case TypeOfflineEvent:
		evt, err = decodeAs[OfflineEventNotice](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return evt, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// ParseTimestamp parses an event timestamp (RFC3339Nano). A missing or
// malformed timestamp falls back to the local clock rather than failing the
// whole frame.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return ts
}

// EncodePing builds the outbound heartbeat control frame.
func EncodePing() []byte {
	return []byte(`{"type":"ping"}`)
}

// EncodeDisconnecting builds the outbound intentional-disconnect notice.
func EncodeDisconnecting() []byte {
	return []byte(`{"type":"client_disconnecting"}`)
}

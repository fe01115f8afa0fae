package agui

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentTypeEventStream is the media type of SSE-framed events.
const ContentTypeEventStream = "text/event-stream"

// StepDelimiter separates the label from the rationale in a packed step name.
const StepDelimiter = "|||"

// RationaleMode selects how a step rationale is rendered on the wire.
type RationaleMode string

const (
	// RationalePacked folds the rationale into stepName. Existing clients drop
	// any dedicated rationale field, so this is the default.
	RationalePacked RationaleMode = "packed"
	// RationaleField keeps stepName as the bare label and sends the rationale as stepText.
	RationaleField RationaleMode = "field"
)

// ParseRationaleMode validates a configured rationale mode.
func ParseRationaleMode(s string) (RationaleMode, error) {
	switch RationaleMode(s) {
	case "", RationalePacked:
		return RationalePacked, nil
	case RationaleField:
		return RationaleField, nil
	}
	return "", fmt.Errorf("unknown rationale mode %q", s)
}

// Encoder serializes events into the wire format.
type Encoder struct {
	mode RationaleMode
}

// NewEncoder creates an encoder using the given rationale mode.
func NewEncoder(mode RationaleMode) *Encoder {
	if mode == "" {
		mode = RationalePacked
	}
	return &Encoder{mode: mode}
}

// ContentType returns the media type of Encode output.
func (e *Encoder) ContentType() string {
	return ContentTypeEventStream
}

// Encode returns the SSE frame for ev.
func (e *Encoder) Encode(ev Event) ([]byte, error) {
	data, err := e.EncodeJSON(ev)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// EncodeJSON returns the bare JSON body of ev, as sent in a websocket text frame.
func (e *Encoder) EncodeJSON(ev Event) ([]byte, error) {
	var payload any
	switch v := ev.(type) {
	case RunStarted:
		payload = struct {
			Type     EventType `json:"type"`
			ThreadID string    `json:"threadId"`
			RunID    string    `json:"runId"`
			AgentID  string    `json:"agentId,omitempty"`
		}{v.Type(), v.ThreadID, v.RunID, v.AgentID}
	case StepStarted:
		payload = e.step(v.Type(), v.StepName, v.Rationale)
	case StepFinished:
		payload = e.step(v.Type(), v.StepName, v.Rationale)
	case TextMessageChunk:
		payload = struct {
			Type      EventType `json:"type"`
			MessageID string    `json:"messageId"`
			Delta     string    `json:"delta"`
		}{v.Type(), v.MessageID, v.Delta}
	case RunFinished:
		payload = struct {
			Type     EventType `json:"type"`
			ThreadID string    `json:"threadId"`
			RunID    string    `json:"runId"`
		}{v.Type(), v.ThreadID, v.RunID}
	case RunError:
		payload = struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
			Code    string    `json:"code,omitempty"`
		}{v.Type(), v.Message, v.Code}
	default:
		return nil, fmt.Errorf("unsupported event type %T", ev)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type(), err)
	}
	return data, nil
}

type wireStep struct {
	Type     EventType `json:"type"`
	StepName string    `json:"stepName"`
	StepText string    `json:"stepText,omitempty"`
}

func (e *Encoder) step(typ EventType, name, rationale string) wireStep {
	if e.mode == RationaleField || rationale == "" {
		return wireStep{Type: typ, StepName: name, StepText: rationale}
	}
	return wireStep{Type: typ, StepName: name + StepDelimiter + rationale}
}

// SplitStepName undoes the packing done in RationalePacked mode.
func SplitStepName(stepName string) (label, rationale string) {
	label, rationale, _ = strings.Cut(stepName, StepDelimiter)
	return label, rationale
}

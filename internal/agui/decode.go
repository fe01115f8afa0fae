package agui

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type wireEvent struct {
	Type      EventType `json:"type"`
	ThreadID  string    `json:"threadId"`
	RunID     string    `json:"runId"`
	AgentID   string    `json:"agentId"`
	StepName  string    `json:"stepName"`
	StepText  string    `json:"stepText"`
	MessageID string    `json:"messageId"`
	Delta     string    `json:"delta"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
}

// Decode parses the JSON body of a single event. Packed step names are split
// back into label and rationale.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch w.Type {
	case EventTypeRunStarted:
		return RunStarted{ThreadID: w.ThreadID, RunID: w.RunID, AgentID: w.AgentID}, nil
	case EventTypeStepStarted:
		name, rationale := splitStep(w.StepName, w.StepText)
		return StepStarted{StepName: name, Rationale: rationale}, nil
	case EventTypeStepFinished:
		name, rationale := splitStep(w.StepName, w.StepText)
		return StepFinished{StepName: name, Rationale: rationale}, nil
	case EventTypeTextMessageChunk:
		return TextMessageChunk{MessageID: w.MessageID, Delta: w.Delta}, nil
	case EventTypeRunFinished:
		return RunFinished{ThreadID: w.ThreadID, RunID: w.RunID}, nil
	case EventTypeRunError:
		return RunError{Message: w.Message, Code: w.Code}, nil
	}
	return nil, fmt.Errorf("decode event: unknown type %q", w.Type)
}

func splitStep(stepName, stepText string) (string, string) {
	if stepText != "" {
		return stepName, stepText
	}
	return SplitStepName(stepName)
}

// ReadStream decodes every SSE data frame in r, in order, calling fn for each event.
func ReadStream(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data bytes.Buffer
	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		ev, err := Decode(data.Bytes())
		data.Reset()
		if err != nil {
			return err
		}
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if payload, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(payload, []byte(" ")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return flush()
}

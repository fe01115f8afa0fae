// Package agui defines the subset of the AG-UI event protocol emitted by the relay
// and the encoders that put those events on the wire.
package agui

// EventType is the discriminator carried in every encoded event.
type EventType string

const (
	EventTypeRunStarted       EventType = "RUN_STARTED"
	EventTypeRunFinished      EventType = "RUN_FINISHED"
	EventTypeRunError         EventType = "RUN_ERROR"
	EventTypeStepStarted      EventType = "STEP_STARTED"
	EventTypeStepFinished     EventType = "STEP_FINISHED"
	EventTypeTextMessageChunk EventType = "TEXT_MESSAGE_CHUNK"
)

// Event is a single protocol event.
type Event interface {
	Type() EventType
}

// RunStarted opens a run. It is always the first event of a stream.
type RunStarted struct {
	ThreadID string
	RunID    string
	AgentID  string
}

// StepStarted announces a progress step.
type StepStarted struct {
	StepName  string
	Rationale string
}

// StepFinished closes the step opened by the matching StepStarted.
type StepFinished struct {
	StepName  string
	Rationale string
}

// TextMessageChunk carries one fragment of model output.
type TextMessageChunk struct {
	MessageID string
	Delta     string
}

// RunFinished is the terminal event of a successful run.
type RunFinished struct {
	ThreadID string
	RunID    string
}

// RunError is the terminal event of a failed run.
type RunError struct {
	Message string
	Code    string
}

func (RunStarted) Type() EventType       { return EventTypeRunStarted }
func (StepStarted) Type() EventType      { return EventTypeStepStarted }
func (StepFinished) Type() EventType     { return EventTypeStepFinished }
func (TextMessageChunk) Type() EventType { return EventTypeTextMessageChunk }
func (RunFinished) Type() EventType      { return EventTypeRunFinished }
func (RunError) Type() EventType         { return EventTypeRunError }

// IsTerminal reports whether no event may follow ev in the same run.
func IsTerminal(ev Event) bool {
	switch ev.Type() {
	case EventTypeRunFinished, EventTypeRunError:
		return true
	}
	return false
}

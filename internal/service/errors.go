package service

import (
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/chatrelay/internal/agui"
)

// Phase names the part of a run in which a failure happened.
type Phase string

const (
	PhaseSteps      Phase = "steps"
	PhaseCompletion Phase = "completion"
	PhaseInternal   Phase = "internal"
)

// PhaseError is a failure inside a run. It is reported to the client as a
// single RunError.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Code is the RunError code reported for this failure.
func (e *PhaseError) Code() string {
	return string(e.Phase) + "_failed"
}

// DeliveryError means the sink rejected an event. The client is gone, so no
// further events are attempted for the run.
type DeliveryError struct {
	Event agui.EventType
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Event, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// errStreamClosed is returned for emissions after a terminal event.
var errStreamClosed = errors.New("stream already terminated")

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a request body cannot be parsed into a RunInput.
	ErrInvalidInput = errors.New("invalid run input")
	// ErrInvalidRole is returned for messages whose role is not user, assistant or system.
	ErrInvalidRole = fmt.Errorf("%w: invalid role", ErrInvalidInput)
)

// Message is one entry of the conversation history.
type Message struct {
	ID      string  `json:"id,omitempty"`
	Role    Role    `json:"role"`
	Content *string `json:"content"`
}

// Text returns the message content, treating a missing content as empty.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// RunInput is the body of a chat request.
// Both snake_case and the AG-UI camelCase spellings of the identifiers are accepted.
type RunInput struct {
	ThreadID string    `json:"thread_id"`
	RunID    string    `json:"run_id"`
	Messages []Message `json:"messages"`
}

// UnmarshalJSON decodes and validates a RunInput.
func (in *RunInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		ThreadID      *string   `json:"thread_id"`
		ThreadIDCamel *string   `json:"threadId"`
		RunID         *string   `json:"run_id"`
		RunIDCamel    *string   `json:"runId"`
		Messages      []Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	threadID, ok := firstPresent(raw.ThreadID, raw.ThreadIDCamel)
	if !ok {
		return fmt.Errorf("%w: thread_id is required", ErrInvalidInput)
	}
	runID, ok := firstPresent(raw.RunID, raw.RunIDCamel)
	if !ok {
		return fmt.Errorf("%w: run_id is required", ErrInvalidInput)
	}

	parsed := RunInput{
		ThreadID: threadID,
		RunID:    runID,
		Messages: raw.Messages,
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*in = parsed
	return nil
}

// Validate checks the structural requirements of a RunInput. Identifiers are
// opaque and may be empty.
func (in *RunInput) Validate() error {
	if in.Messages == nil {
		return fmt.Errorf("%w: messages is required", ErrInvalidInput)
	}
	for i, msg := range in.Messages {
		if !msg.Role.Valid() {
			return fmt.Errorf("%w %q at messages[%d]", ErrInvalidRole, msg.Role, i)
		}
	}
	return nil
}

// firstPresent returns the first non-nil value, preferring non-empty ones.
func firstPresent(values ...*string) (string, bool) {
	var found *string
	for _, v := range values {
		if v == nil {
			continue
		}
		if *v != "" {
			return *v, true
		}
		if found == nil {
			found = v
		}
	}
	if found == nil {
		return "", false
	}
	return *found, true
}

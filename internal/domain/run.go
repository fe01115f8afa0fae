package domain

import (
	"encoding/json"
	"time"
)

// Run is the journal record of a single chat request.
type Run struct {
	RecordID   string     `json:"record_id"`
	ThreadID   string     `json:"thread_id"`
	RunID      string     `json:"run_id"`
	AgentID    string     `json:"agent_id"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	ChunkCount int        `json:"chunk_count"`
	Error      string     `json:"error,omitempty"`
}

// Event is a journaled protocol event, kept for replay and inspection.
type Event struct {
	EventID  string          `json:"event_id"`
	RecordID string          `json:"record_id"`
	Ts       int64           `json:"ts"` // Unix milliseconds
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

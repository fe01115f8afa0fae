package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

func TestPrintRuns(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ended := started.Add(3500 * time.Millisecond)

	var out bytes.Buffer
	require.NoError(t, printRuns(&out, []domain.Run{
		{RecordID: "rec1", ThreadID: "t1", RunID: "r1", Status: domain.RunStatusFinished, StartedAt: started, EndedAt: &ended, ChunkCount: 12},
		{RecordID: "rec2", ThreadID: "t1", RunID: "r2", Status: domain.RunStatusRunning, StartedAt: started},
	}))

	text := out.String()
	assert.Contains(t, text, "RECORD")
	assert.Contains(t, text, "rec1")
	assert.Contains(t, text, "3.5s")
	assert.Contains(t, text, "RUNNING")

	out.Reset()
	require.NoError(t, printRuns(&out, nil))
	assert.Equal(t, "No runs journaled.\n", out.String())
}

func TestPrintEvents(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printEvents(&out, []domain.Event{
		{EventID: "e1", RecordID: "rec1", Ts: 1000, Type: "RUN_STARTED", Payload: json.RawMessage(`{"type":"RUN_STARTED"}`)},
	}))
	assert.Contains(t, out.String(), `RUN_STARTED  {"type":"RUN_STARTED"}`)
}

func TestWriteJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeJSON(&out, []domain.Run{{RecordID: "rec1", Status: domain.RunStatusFailed, Error: "boom"}}))

	var runs []domain.Run
	require.NoError(t, json.Unmarshal(out.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "boom", runs[0].Error)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

type memJournal struct {
	mu        sync.Mutex
	runs      []*domain.Run
	events    []*domain.Event
	completed map[string]domain.RunStatus
	chunks    map[string]int
	errMsg    map[string]string
	fail      bool
}

func newMemJournal() *memJournal {
	return &memJournal{
		completed: make(map[string]domain.RunStatus),
		chunks:    make(map[string]int),
		errMsg:    make(map[string]string),
	}
}

func (j *memJournal) CreateRun(_ context.Context, run *domain.Run) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("disk full")
	}
	j.runs = append(j.runs, run)
	return nil
}

func (j *memJournal) CreateEvent(_ context.Context, event *domain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
	return nil
}

func (j *memJournal) CompleteRun(_ context.Context, recordID string, status domain.RunStatus, chunkCount int, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed[recordID] = status
	j.chunks[recordID] = chunkCount
	j.errMsg[recordID] = errMsg
	return nil
}

func TestStreamJournalsRun(t *testing.T) {
	journal := newMemJournal()
	svc := newTestService(&fakeClient{chunks: []*llm.StreamChunk{textChunk("a"), textChunk("b")}}, WithJournal(journal))

	require.NoError(t, svc.Stream(context.Background(), testInput(), (&collector{}).sink))

	require.Len(t, journal.runs, 1)
	run := journal.runs[0]
	assert.Equal(t, "t1", run.ThreadID)
	assert.Equal(t, "r1", run.RunID)
	assert.Equal(t, DefaultAgentID, run.AgentID)
	assert.Equal(t, domain.RunStatusRunning, run.Status)

	// RunStarted, three step pairs and RunFinished; chunks are only counted.
	require.Len(t, journal.events, 8)
	assert.Equal(t, "RUN_STARTED", journal.events[0].Type)
	assert.Equal(t, "RUN_FINISHED", journal.events[7].Type)
	for _, ev := range journal.events {
		assert.Equal(t, run.RecordID, ev.RecordID)
	}

	var step map[string]string
	require.NoError(t, json.Unmarshal(journal.events[1].Payload, &step))
	assert.Equal(t, "Creating a plan", step["stepName"])
	assert.Equal(t, DefaultScript[0].Rationale, step["stepText"])

	assert.Equal(t, domain.RunStatusFinished, journal.completed[run.RecordID])
	assert.Equal(t, 2, journal.chunks[run.RecordID])
}

func TestStreamJournalsFailure(t *testing.T) {
	journal := newMemJournal()
	svc := newTestService(&fakeClient{err: errors.New("quota exceeded")}, WithJournal(journal))

	require.Error(t, svc.Stream(context.Background(), testInput(), (&collector{}).sink))

	require.Len(t, journal.runs, 1)
	recordID := journal.runs[0].RecordID
	assert.Equal(t, domain.RunStatusFailed, journal.completed[recordID])
	assert.Contains(t, journal.errMsg[recordID], "quota exceeded")
	assert.Equal(t, "RUN_ERROR", journal.events[len(journal.events)-1].Type)
}

func TestStreamJournalFailureDoesNotAffectStream(t *testing.T) {
	journal := newMemJournal()
	journal.fail = true
	svc := newTestService(&fakeClient{chunks: []*llm.StreamChunk{textChunk("a")}}, WithJournal(journal))

	c := &collector{}
	require.NoError(t, svc.Stream(context.Background(), testInput(), c.sink))
	assert.Len(t, c.events, 9)
	assert.Empty(t, journal.events)
	assert.Empty(t, journal.completed)
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatrelay/internal/agui"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Journal stores a record of each run. Implemented by repository.SQLiteStore.
type Journal interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	CreateEvent(ctx context.Context, event *domain.Event) error
	CompleteRun(ctx context.Context, recordID string, status domain.RunStatus, chunkCount int, errMsg string) error
}

// journalEncoder renders journaled payloads with the rationale as its own field.
var journalEncoder = agui.NewEncoder(agui.RationaleField)

// recorder writes one run to the journal. Failures are logged and never reach
// the stream. A recorder without a journal only counts chunks.
type recorder struct {
	journal  Journal
	logger   *zap.Logger
	ctx      context.Context
	recordID string
	newID    func() string
	now      func() time.Time
	chunks   int
}

func (s *Service) newRecorder(ctx context.Context, in *domain.RunInput) *recorder {
	r := &recorder{
		journal: s.journal,
		logger:  s.logger,
		// Journal writes outlive a cancelled request so failed runs are still closed.
		ctx:   context.WithoutCancel(ctx),
		newID: s.newID,
		now:   s.now,
	}
	if r.journal == nil {
		return r
	}

	r.recordID = s.newID()
	run := &domain.Run{
		RecordID:  r.recordID,
		ThreadID:  in.ThreadID,
		RunID:     in.RunID,
		AgentID:   s.agentID,
		Status:    domain.RunStatusRunning,
		StartedAt: s.now(),
	}
	if err := r.journal.CreateRun(r.ctx, run); err != nil {
		r.logger.Warn("failed to journal run", zap.String("run_id", in.RunID), zap.Error(err))
		r.journal = nil
	}
	return r
}

func (r *recorder) record(ev agui.Event) {
	if ev.Type() == agui.EventTypeTextMessageChunk {
		r.chunks++
		return
	}
	if r.journal == nil {
		return
	}

	payload, err := journalEncoder.EncodeJSON(ev)
	if err != nil {
		r.logger.Warn("failed to encode journal event", zap.String("type", string(ev.Type())), zap.Error(err))
		return
	}
	event := &domain.Event{
		EventID:  r.newID(),
		RecordID: r.recordID,
		Ts:       r.now().UnixMilli(),
		Type:     string(ev.Type()),
		Payload:  payload,
	}
	if err := r.journal.CreateEvent(r.ctx, event); err != nil {
		r.logger.Warn("failed to journal event", zap.String("type", event.Type), zap.Error(err))
	}
}

func (r *recorder) complete(status domain.RunStatus, runErr error) {
	if r.journal == nil {
		return
	}
	var errMsg string
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := r.journal.CompleteRun(r.ctx, r.recordID, status, r.chunks, errMsg); err != nil {
		r.logger.Warn("failed to complete journaled run", zap.String("record_id", r.recordID), zap.Error(err))
	}
}

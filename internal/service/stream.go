package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/agui"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// runStream guards the sink of a single run. Once a terminal event has been
// delivered, or delivery has failed, nothing else goes out.
type runStream struct {
	sink   Sink
	rec    *recorder
	closed bool
}

func (rs *runStream) emit(ev agui.Event) error {
	if rs.closed {
		return errStreamClosed
	}
	if err := rs.sink(ev); err != nil {
		rs.closed = true
		return &DeliveryError{Event: ev.Type(), Err: err}
	}
	if agui.IsTerminal(ev) {
		rs.closed = true
	}
	rs.rec.record(ev)
	return nil
}

// Stream runs one chat request and pushes its events into sink.
//
// It returns nil when RunFinished was delivered, the *PhaseError reported as
// RunError when the run failed, or a *DeliveryError when the sink gave up.
func (s *Service) Stream(ctx context.Context, in *domain.RunInput, sink Sink) error {
	start := s.now()
	logger := s.logger.With(zap.String("thread_id", in.ThreadID), zap.String("run_id", in.RunID))
	logger.Info("chat stream started", zap.Int("message_count", len(in.Messages)))

	rs := &runStream{sink: sink, rec: s.newRecorder(ctx, in)}

	err := rs.emit(agui.RunStarted{ThreadID: in.ThreadID, RunID: in.RunID, AgentID: s.agentID})
	if err == nil {
		err = s.runPhases(ctx, in, rs)
	}
	if err == nil {
		err = rs.emit(agui.RunFinished{ThreadID: in.ThreadID, RunID: in.RunID})
	}

	if err == nil {
		rs.rec.complete(domain.RunStatusFinished, nil)
		logger.Info("chat stream finished",
			zap.Int("chunk_count", rs.rec.chunks),
			zap.Duration("duration", s.now().Sub(start)),
		)
		return nil
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		rs.rec.complete(domain.RunStatusFailed, err)
		logger.Warn("chat stream aborted, client unreachable", zap.Error(err))
		return err
	}

	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) {
		phaseErr = &PhaseError{Phase: PhaseInternal, Err: err}
	}
	logger.Error("chat stream failed", zap.String("phase", string(phaseErr.Phase)), zap.Error(phaseErr.Err))

	if emitErr := rs.emit(agui.RunError{Message: phaseErr.Err.Error(), Code: phaseErr.Code()}); emitErr != nil {
		rs.rec.complete(domain.RunStatusFailed, phaseErr)
		logger.Warn("failed to deliver run error", zap.Error(emitErr))
		return emitErr
	}
	rs.rec.complete(domain.RunStatusFailed, phaseErr)
	return phaseErr
}

// runPhases runs the scripted steps and then the completion. A panic in either
// phase is reported like any other internal failure.
func (s *Service) runPhases(ctx context.Context, in *domain.RunInput, rs *runStream) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PhaseError{Phase: PhaseInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := s.runSteps(ctx, rs); err != nil {
		return err
	}
	return s.runCompletion(ctx, in, rs)
}

func (s *Service) runSteps(ctx context.Context, rs *runStream) error {
	for _, step := range s.script {
		started := agui.StepStarted{StepName: step.Label, Rationale: step.Rationale}
		if err := rs.emit(started); err != nil {
			return err
		}
		if err := s.sleep(ctx, step.Delay); err != nil {
			return &PhaseError{Phase: PhaseSteps, Err: fmt.Errorf("step %s: %w", step.Name, err)}
		}
		if err := rs.emit(agui.StepFinished(started)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) runCompletion(ctx context.Context, in *domain.RunInput, rs *runStream) error {
	if err := context.Cause(ctx); err != nil {
		return &PhaseError{Phase: PhaseCompletion, Err: err}
	}

	messageID := s.newID()
	req := &llm.ChatCompletionRequest{
		Model:    s.model,
		Messages: toChatMessages(in.Messages),
		Stream:   true,
	}

	_, err := s.llmClient.CreateChatCompletionStream(ctx, req, func(chunk *llm.StreamChunk) error {
		delta := chunk.Content()
		if delta == "" {
			return nil
		}
		return rs.emit(agui.TextMessageChunk{MessageID: messageID, Delta: delta})
	})
	if err != nil {
		var deliveryErr *DeliveryError
		if errors.As(err, &deliveryErr) {
			return deliveryErr
		}
		return &PhaseError{Phase: PhaseCompletion, Err: err}
	}
	return nil
}

func toChatMessages(msgs []domain.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.ChatMessage{Role: string(m.Role), Content: m.Text()})
	}
	return out
}


// Package service implements the chat stream handler: it turns one RunInput
// into an ordered sequence of AG-UI events.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/agui"
)

const (
	// DefaultAgentID is reported in RunStarted when no agent id is configured.
	DefaultAgentID = "perplexity-clone"
	// DefaultModel is the completion model used when none is configured.
	DefaultModel = "gpt-4o"
)

// Sink receives encoded-ready events in emission order. An error means the
// client can no longer be reached.
type Sink func(ev agui.Event) error

// Service holds the request-independent collaborators of the handler. It keeps
// no per-request state, so one Service serves concurrent requests.
type Service struct {
	llmClient llm.Client
	logger    *zap.Logger
	journal   Journal

	model   string
	agentID string
	script  []Step
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func() string
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithModel sets the completion model.
func WithModel(model string) Option {
	return func(s *Service) {
		if model != "" {
			s.model = model
		}
	}
}

// WithAgentID sets the agent id reported in RunStarted.
func WithAgentID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.agentID = id
		}
	}
}

// WithScript replaces the progress steps.
func WithScript(script []Step) Option {
	return func(s *Service) { s.script = script }
}

// WithSleep replaces the step delay. Tests use it to skip wall-clock pacing.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// WithIDGenerator replaces the generator of message and journal ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithJournal records every run in j.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// New creates a new service instance.
func New(llmClient llm.Client, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		llmClient: llmClient,
		logger:    logger,
		model:     DefaultModel,
		agentID:   DefaultAgentID,
		script:    DefaultScript,
		sleep:     sleepContext,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// AgentID returns the configured agent id.
func (s *Service) AgentID() string {
	return s.agentID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session runs conversations with resolved agents and teams.
//
// A Session binds one spawned participant and its context window. Each
// call to Ask is one turn: the user message is added to the context, the
// participant runs, and the messages of the turn are returned. Turns on a
// session are serialized; an Ask made while another is in flight fails
// with domain.ErrTurnInProgress instead of waiting.
//
// A failed or cancelled turn leaves the context as it was before the turn
// plus the user message, so asking again replays cleanly.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/mchat/pkg/agent"
	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/observability"
)

// Session is a conversation with one agent or team.
type Session struct {
	id          string
	participant agent.Participant
	created     time.Time

	logger   *slog.Logger
	recorder observability.Recorder
	callback agent.Callback

	stream atomic.Bool
	turn   sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder sets where spans and metrics of turns are recorded.
func WithRecorder(r observability.Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCallback sets the callback receiving the events of every turn.
func WithCallback(cb agent.Callback) Option {
	return func(s *Session) { s.callback = cb }
}

// WithID sets the session ID instead of a generated one.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// New starts a conversation with a fresh instance of bp.
func New(bp *agent.Blueprint, streamTokens bool, opts ...Option) (*Session, error) {
	p, err := bp.Spawn()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:          uuid.NewString(),
		participant: p,
		created:     time.Now(),
		logger:      slog.Default(),
		recorder:    observability.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stream.Store(streamTokens)
	s.logger = s.logger.With("session", s.id, "agent", bp.Name)
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Agent returns the name of the agent or team.
func (s *Session) Agent() string { return s.participant.Name() }

// Blueprint returns the resolved agent or team.
func (s *Session) Blueprint() *agent.Blueprint { return s.participant.Blueprint() }

// Model returns the agent's model, or the speaker-selection model of a
// selector team. Nil for round robin teams.
func (s *Session) Model() *model.Entry { return s.participant.Blueprint().Model }

// Prompt returns the configured prompt, whether or not the model accepts
// it as a system instruction.
func (s *Session) Prompt() string { return s.participant.Blueprint().Prompt }

// EffectiveSystemPrompt returns the system instruction sent on each turn,
// or false when none is sent.
func (s *Session) EffectiveSystemPrompt(overrides ...model.CapabilityOption) (string, bool) {
	return s.participant.Blueprint().EffectiveSystemPrompt(overrides...)
}

// CreatedAt returns when the session was started.
func (s *Session) CreatedAt() time.Time { return s.created }

// StreamTokens reports whether turns stream tokens.
func (s *Session) StreamTokens() bool { return s.stream.Load() }

// SetStreamTokens toggles token streaming. A turn in flight keeps the
// setting it started with.
func (s *Session) SetStreamTokens(v bool) { s.stream.Store(v) }

// Messages returns a copy of the context window: the agent's, or the
// thread of a team.
func (s *Session) Messages() []domain.Message {
	return s.participant.Memory().Messages()
}

// Clear empties the context. It fails while a turn is in flight.
func (s *Session) Clear() error {
	if !s.turn.TryLock() {
		return domain.ErrTurnInProgress
	}
	defer s.turn.Unlock()
	s.participant.Clear()
	return nil
}

// Result is the outcome of one turn.
type Result struct {
	// Messages holds the user message followed by every message the turn
	// produced, in order.
	Messages []domain.Message

	// Usage and Cost total every model call of the turn.
	Usage model.Usage
	Cost  float64

	StopReason string
	Duration   time.Duration
}

// Reply returns the last message of the turn.
func (r *Result) Reply() domain.Message {
	return r.Messages[len(r.Messages)-1]
}

// AskOption adjusts a single turn.
type AskOption func(*askOptions)

type askOptions struct {
	overrides []model.CapabilityOption
	callback  agent.Callback
}

// WithCapabilities overrides model capabilities for this turn only.
func WithCapabilities(opts ...model.CapabilityOption) AskOption {
	return func(o *askOptions) { o.overrides = append(o.overrides, opts...) }
}

// WithTurnCallback replaces the session callback for this turn.
func WithTurnCallback(cb agent.Callback) AskOption {
	return func(o *askOptions) { o.callback = cb }
}

// Ask runs one turn with text as the user message.
//
// Failures are returned as *domain.AskError wrapping the cause. An Ask
// made while another is in flight returns domain.ErrTurnInProgress and
// leaves the session untouched.
func (s *Session) Ask(ctx context.Context, text string, opts ...AskOption) (res *Result, err error) {
	if !s.turn.TryLock() {
		return nil, domain.ErrTurnInProgress
	}
	defer s.turn.Unlock()

	o := askOptions{callback: s.callback}
	for _, opt := range opts {
		opt(&o)
	}

	name := s.participant.Name()
	stream := s.stream.Load()
	start := time.Now()

	ctx, span := s.recorder.StartSpan(ctx, observability.SpanAsk,
		attribute.String(observability.AttrAgentName, name),
		attribute.String(observability.AttrSessionID, s.id),
		attribute.Bool(observability.AttrStream, stream),
	)
	defer func() {
		s.recorder.RecordAsk(ctx, name, time.Since(start), err)
		observability.EndSpan(span, err)
	}()

	if s.participant.Blueprint().Oneshot {
		s.participant.Clear()
	}

	user := domain.NewUserMessage(text)
	s.participant.Observe(user)
	snap := s.participant.Snapshot()

	tally := &model.Tally{}
	out, err := s.participant.Run(ctx, &agent.RunConfig{
		Stream:    stream,
		Overrides: o.overrides,
		Callback:  o.callback,
		Tally:     tally,
		Recorder:  s.recorder,
		Logger:    s.logger,
	})
	if err != nil {
		s.participant.Restore(snap)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Info("Turn cancelled", "error", err)
		} else {
			s.logger.Error("Turn failed", "error", err)
		}
		return nil, &domain.AskError{Agent: name, Err: err}
	}

	res = &Result{
		Messages:   append([]domain.Message{user}, out.Messages...),
		Usage:      tally.Usage(),
		Cost:       tally.Cost(),
		StopReason: out.StopReason,
		Duration:   time.Since(start),
	}
	s.logger.Debug("Turn completed",
		"messages", len(res.Messages),
		"stop_reason", res.StopReason,
		"tokens", res.Usage.TotalTokens,
		"cost", res.Cost,
		"duration", res.Duration,
	)
	return res, nil
}

// Package soul implements the step-loop driver that executes one
// agent's turns: model calls, parallel tool dispatch, context growth,
// compaction, and D-Mail time travel.
package soul

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yanmxa/kimi/internal/agent"
	"github.com/yanmxa/kimi/internal/history"
	"github.com/yanmxa/kimi/internal/log"
	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/provider"
	"github.com/yanmxa/kimi/internal/runtime"
	"github.com/yanmxa/kimi/internal/tool"
	"github.com/yanmxa/kimi/internal/wire"
)

var (
	// ErrMaxSteps terminates a turn that hit max_steps_per_turn.
	ErrMaxSteps = errors.New("max steps per turn reached")
	// ErrRunCancelled terminates a cancelled turn.
	ErrRunCancelled = errors.New("run cancelled")
	// ErrBusy rejects a concurrent Run on the same Soul.
	ErrBusy = errors.New("a turn is already running")
)

// Input is one user input: text, optionally with extra content parts.
type Input struct {
	Text  string
	Parts []message.Part
}

// Status is a cheap snapshot for the UI.
type Status struct {
	TokenCount   uint64
	ContextUsage float32
}

// Soul drives one agent. A Soul owns its Context exclusively while a
// turn runs; at most one Run may be active at a time.
type Soul struct {
	agent *agent.Agent
	rt    *runtime.Runtime
	ctx   *history.Context
	wire  *wire.Producer

	dispatcher *tool.Dispatcher
	thinking   bool
	sub        bool
	running    atomic.Bool
}

// New creates a Soul and registers the agent's fixed sub-agents into
// the runtime's labor market, each with an isolated cloned runtime.
func New(a *agent.Agent, rt *runtime.Runtime, ctx *history.Context, w *wire.Producer) (*Soul, error) {
	d, err := tool.NewDispatcher(a.Tools)
	if err != nil {
		return nil, err
	}
	s := &Soul{agent: a, rt: rt, ctx: ctx, wire: w, dispatcher: d}

	for _, sub := range a.FixedSubagents {
		if _, exists := rt.Labor.Lookup(sub.Name); exists {
			continue
		}
		if err := rt.Labor.RegisterFixed(&runtime.Entry{
			Agent:   sub,
			Runtime: rt.CloneForFixedSubagent(),
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetThinking toggles the thinking-effort flag passed to the provider.
func (s *Soul) SetThinking(on bool) error {
	if on {
		if err := s.rt.LLM.Require(provider.CapThinking); err != nil {
			return err
		}
	}
	s.thinking = on
	return nil
}

// Thinking reports the current thinking flag.
func (s *Soul) Thinking() bool { return s.thinking }

// Status returns the current context usage.
func (s *Soul) Status() Status {
	tokens := s.ctx.TokenCount()
	return Status{
		TokenCount:   tokens,
		ContextUsage: float32(tokens) / float32(s.rt.LLM.ResolveMaxContextSize()),
	}
}

// Run executes one turn. Single concurrent call per Soul.
func (s *Soul) Run(ctx context.Context, input Input) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	if err := s.checkInputCaps(input); err != nil {
		return err
	}

	s.wire.Send(wire.TurnBegin{UserInput: input.Text})

	if cmd, ok := parseCommand(input.Text); ok {
		return s.dispatchCommand(ctx, cmd)
	}

	if _, err := s.ctx.Checkpoint(false); err != nil {
		return err
	}
	if err := s.ctx.Append(userMessage(input)); err != nil {
		return err
	}

	err := s.loop(ctx)
	if err == nil {
		s.touchSession(input.Text)
	}
	return err
}

// loop is the bounded step loop of one turn.
func (s *Soul) loop(ctx context.Context) error {
	cfg := s.rt.Config

	for stepNo := 1; ; stepNo++ {
		if stepNo > cfg.MaxStepsPerTurn {
			return ErrMaxSteps
		}
		s.wire.Send(wire.StepBegin{N: stepNo})

		if s.ctx.TokenCount()+cfg.ReservedTokens >= s.rt.LLM.ResolveMaxContextSize() {
			if err := s.compact(ctx, ""); err != nil {
				s.wire.Send(wire.StepInterrupted{})
				return fmt.Errorf("context compaction failed: %w", err)
			}
		}

		if _, err := s.ctx.Checkpoint(false); err != nil {
			return err
		}

		outcome, err := s.runOneStep(ctx)
		if err != nil {
			s.wire.Send(wire.StepInterrupted{})
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrRunCancelled, ctx.Err())
			}
			return err
		}

		switch outcome.kind {
		case outcomeFinished:
			return nil

		case outcomeRewind:
			log.Logger().Info("world line shift",
				zap.Uint32("target", outcome.target),
				zap.Uint32("from", s.ctx.NCheckpoints()))
			if err := s.ctx.RevertTo(outcome.target); err != nil {
				return err
			}
			if _, err := s.ctx.Checkpoint(false); err != nil {
				return err
			}
			if err := s.ctx.Append(outcome.messages...); err != nil {
				return err
			}

		case outcomeContinue:
		}
	}
}

// checkInputCaps validates that non-text parts are supported by the
// bound LLM.
func (s *Soul) checkInputCaps(input Input) error {
	var need []provider.Capability
	for _, p := range input.Parts {
		switch p.(type) {
		case message.ImageURL:
			need = append(need, provider.CapImageIn)
		case message.AudioURL:
			need = append(need, provider.CapAudioIn)
		case message.VideoURL:
			need = append(need, provider.CapVideoIn)
		}
	}
	if len(need) == 0 {
		return nil
	}
	return s.rt.LLM.Require(need...)
}

func userMessage(input Input) message.Message {
	parts := message.Parts{}
	if input.Text != "" {
		parts = append(parts, message.Text{Text: input.Text})
	}
	parts = append(parts, input.Parts...)
	return message.Message{Role: message.RoleUser, Content: parts}
}

// touchSession records the turn in session metadata; sub-agent souls
// leave the parent's session record alone.
func (s *Soul) touchSession(inputText string) {
	if s.sub || s.rt.Sessions == nil || s.rt.Session == nil {
		return
	}
	if s.rt.Session.Title == "" {
		s.rt.Session.Title = truncateTitle(inputText)
	}
	if err := s.rt.Sessions.Touch(s.rt.Session); err != nil {
		log.Logger().Warn("session touch failed", zap.Error(err))
	}
}

func truncateTitle(text string) string {
	text = strings.TrimSpace(strings.Split(text, "\n")[0])
	runes := []rune(text)
	if len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return text
}

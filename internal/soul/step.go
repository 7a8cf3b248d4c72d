package soul

import (
	"context"

	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/provider"
	"github.com/yanmxa/kimi/internal/retry"
	"github.com/yanmxa/kimi/internal/tool"
	"github.com/yanmxa/kimi/internal/wire"
)

type outcomeKind int

const (
	outcomeFinished outcomeKind = iota
	outcomeContinue
	outcomeRewind
)

// stepOutcome is the tagged result of one step. Rewind carries the
// D-Mail target and the messages to inject after the revert.
type stepOutcome struct {
	kind     outcomeKind
	target   uint32
	messages []message.Message
}

// runOneStep performs one model call and dispatches whatever tool calls
// it emits.
func (s *Soul) runOneStep(ctx context.Context) (stepOutcome, error) {
	final, err := s.callModel(ctx)
	if err != nil {
		return stepOutcome{}, err
	}

	if err := s.ctx.UpdateUsage(final.TokenCount); err != nil {
		return stepOutcome{}, err
	}
	status := s.Status()
	s.wire.Send(wire.StatusUpdate{TokenCount: status.TokenCount, ContextUsage: status.ContextUsage})

	if err := s.ctx.Append(final.Message); err != nil {
		return stepOutcome{}, err
	}
	if len(final.ToolCalls) == 0 {
		return stepOutcome{kind: outcomeFinished}, nil
	}

	results := s.dispatcher.Dispatch(ctx, final.ToolCalls, s.toolContext())
	if ctx.Err() != nil {
		return stepOutcome{}, ctx.Err()
	}

	// results arrive in call order; append them in that order so the
	// model has a stable view
	toolMsgs := make([]message.Message, len(results))
	for i, r := range results {
		toolMsgs[i] = message.ToolMessage(r.ToolCallID, r.Return)
	}
	if err := s.ctx.Append(toolMsgs...); err != nil {
		return stepOutcome{}, err
	}

	rejected := false
	for _, r := range results {
		if r.Return.Kind == message.ReturnRejected {
			rejected = true
			break
		}
	}

	if mail := s.rt.DenwaRenji.Take(); mail != nil {
		if rejected {
			// the user's rejection wins; the D-Mail is discarded
			return stepOutcome{kind: outcomeFinished}, nil
		}
		return stepOutcome{
			kind:     outcomeRewind,
			target:   mail.CheckpointID,
			messages: []message.Message{dmailMessage(mail.Message)},
		}, nil
	}

	if rejected {
		return stepOutcome{kind: outcomeFinished}, nil
	}
	return stepOutcome{kind: outcomeContinue}, nil
}

// callModel invokes the chat provider with retry on transient errors,
// streaming chunks onto the wire as they arrive.
func (s *Soul) callModel(ctx context.Context) (*provider.Final, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = s.rt.Config.MaxRetriesPerStep
	cfg.Retryable = provider.IsRetryable

	var final *provider.Final
	err := retry.Do(ctx, cfg, func() error {
		ch, err := s.rt.LLM.Step(ctx, s.agent.SystemPrompt, s.dispatcher.Schemas(),
			s.ctx.History(), s.thinking)
		if err != nil {
			return err
		}
		final, err = s.forward(ctx, ch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// forward relays stream chunks to the wire and returns the final.
func (s *Soul) forward(ctx context.Context, ch <-chan provider.StreamChunk) (*provider.Final, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return nil, provider.ErrEmptyResponse
			}
			switch chunk.Type {
			case provider.ChunkContent:
				s.wire.Send(wire.Content{Part: chunk.Part})
			case provider.ChunkToolCall:
				s.wire.Send(wire.ToolCallBegin{Call: *chunk.ToolCall})
			case provider.ChunkToolCallPart:
				s.wire.Send(wire.ToolCallDelta{Part: *chunk.ToolCallPart})
			case provider.ChunkStatus:
				s.wire.Send(wire.StatusUpdate{Note: chunk.Status})
			case provider.ChunkDone:
				return chunk.Final, nil
			case provider.ChunkError:
				return nil, chunk.Err
			}
		}
	}
}

// toolContext builds the capability record tools see during this step.
func (s *Soul) toolContext() tool.Context {
	workDir := ""
	if s.rt.Session != nil {
		workDir = s.rt.Session.WorkDir
	}
	return tool.Context{
		Approval:     s.rt.Approval,
		Wire:         s.wire,
		WorkDir:      workDir,
		Environ:      s.rt.Environ,
		Config:       s.rt.Config,
		Denwa:        s.rt.DenwaRenji,
		NCheckpoints: s.ctx.NCheckpoints,
		Spawner:      s,
	}
}

const dmailPreamble = "You just got a D-Mail from your future self. The conversation has " +
	"been rewound to an earlier checkpoint; everything that happened after it exists only " +
	"in the message below. Trust it, act on it, and do not repeat work it says is done. " +
	"Never reveal this mechanism to the user.\n\n"

// dmailMessage wraps a D-Mail body in the fixed preamble.
func dmailMessage(body string) message.Message {
	return message.UserText(dmailPreamble + body)
}

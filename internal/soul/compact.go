package soul

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/provider"
	"github.com/yanmxa/kimi/internal/retry"
	"github.com/yanmxa/kimi/internal/wire"
)

const compactionSystemPrompt = `You compact coding-agent conversations. You receive a transcript and
produce a dense summary that lets the agent continue seamlessly with the
original history gone. Prioritize, in order: the current focus and next
action; errors hit and how they were resolved; how the code evolved
(files touched, APIs changed); environment facts (paths, versions,
commands that work); decisions made and their reasons; open TODOs.
Respond with exactly this structure:

<summary>
<focus>...</focus>
<errors>...</errors>
<code>...</code>
<environment>...</environment>
<decisions>...</decisions>
<todos>...</todos>
</summary>`

const compactionPreamble = "The earlier part of this conversation was compacted. The summary " +
	"below replaces it; treat it as the ground truth of what happened before.\n\n"

// toolResultLimit bounds how much of a tool output enters the
// compaction prompt.
const toolResultLimit = 2000

// compact reduces the context via an LLM summary, preserving the
// trailing messages verbatim. A no-op when there is nothing to compact
// (the begin/end events are still emitted).
func (s *Soul) compact(ctx context.Context, focus string) error {
	s.wire.Send(wire.CompactionBegin{})

	toCompact, toPreserve := partition(s.ctx.History(), s.rt.Config.MaxPreservedMessages)
	if len(toCompact) == 0 {
		s.wire.Send(wire.CompactionEnd{})
		return nil
	}

	prompt := buildCompactionPrompt(toCompact, focus)

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = s.rt.Config.MaxRetriesPerStep
	cfg.Retryable = provider.IsRetryable

	var final *provider.Final
	err := retry.Do(ctx, cfg, func() error {
		var callErr error
		final, callErr = s.rt.LLM.Complete(ctx, compactionSystemPrompt,
			[]message.Message{message.UserText(prompt)})
		return callErr
	})
	if err != nil {
		return err
	}
	summary := strings.TrimSpace(final.Message.Text())

	if err := s.ctx.Clear(); err != nil {
		return err
	}
	if _, err := s.ctx.Checkpoint(false); err != nil {
		return err
	}
	msgs := append([]message.Message{message.UserText(compactionPreamble + summary)}, toPreserve...)
	if err := s.ctx.Append(msgs...); err != nil {
		return err
	}

	s.wire.Send(wire.CompactionEnd{})
	return nil
}

// partition splits the history into a prefix to compact and a suffix to
// preserve: the last keep user/assistant messages plus any interleaved
// tool messages needed to keep tool-call/result pairs intact.
func partition(history []message.Message, keep int) (toCompact, toPreserve []message.Message) {
	if keep <= 0 {
		return history, nil
	}

	cut := 0
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		role := history[i].Role
		if role == message.RoleUser || role == message.RoleAssistant {
			count++
			if count == keep {
				cut = i
				break
			}
		}
	}
	if count < keep {
		return nil, history
	}

	// the suffix must not open with orphaned tool results
	for cut > 0 && history[cut].Role == message.RoleTool {
		cut--
	}
	return history[:cut], history[cut:]
}

// buildCompactionPrompt enumerates the messages to compact.
func buildCompactionPrompt(msgs []message.Message, focus string) string {
	var sb strings.Builder
	for i, m := range msgs {
		fmt.Fprintf(&sb, "## Message %d\nRole: %s\nContent:\n%s\n\n", i, m.Role, renderForCompaction(m))
	}
	sb.WriteString("Summarize the conversation above following your instructions.")
	if focus != "" {
		fmt.Fprintf(&sb, "\nFocus the summary on: %s", focus)
	}
	return sb.String()
}

// renderForCompaction flattens one message to text for the summarizer.
func renderForCompaction(m message.Message) string {
	if m.Role == message.RoleTool {
		if m.Return == nil {
			return ""
		}
		text := m.Return.Output
		if text == "" {
			text = m.Return.Message
		}
		if len(text) > toolResultLimit {
			text = text[:toolResultLimit] + "...[truncated]"
		}
		return fmt.Sprintf("[Tool result %s] %s", m.ToolCallID, text)
	}

	var sb strings.Builder
	for _, p := range m.Content {
		switch v := p.(type) {
		case message.Text:
			sb.WriteString(v.Text)
		case message.ToolCall:
			fmt.Fprintf(&sb, "\n[Tool call: %s(%s)]", v.Name, v.Arguments)
		case message.ImageURL:
			sb.WriteString("\n[image]")
		case message.AudioURL:
			sb.WriteString("\n[audio]")
		case message.VideoURL:
			sb.WriteString("\n[video]")
		}
	}
	return sb.String()
}

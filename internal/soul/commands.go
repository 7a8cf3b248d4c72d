package soul

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/wire"
)

// parseCommand recognizes a leading /command in the user text.
func parseCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	return trimmed, true
}

// dispatchCommand handles the slash commands the core owns. Unknown
// commands produce a one-line error and end the turn.
func (s *Soul) dispatchCommand(ctx context.Context, cmd string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(cmd, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "compact":
		return s.compact(ctx, arg)

	case "clear":
		if err := s.ctx.Clear(); err != nil {
			return err
		}
		s.say("Context cleared.")
		return nil

	case "init":
		return s.initAgentsMD(ctx)

	case "think":
		on := arg != "off"
		if err := s.SetThinking(on); err != nil {
			return err
		}
		if on {
			s.say("Thinking enabled.")
		} else {
			s.say("Thinking disabled.")
		}
		return nil

	default:
		s.say(fmt.Sprintf("Unknown command: /%s", name))
		return nil
	}
}

// say emits a one-line text event for the UI.
func (s *Soul) say(text string) {
	s.wire.Send(wire.Content{Part: message.Text{Text: text}})
}

const initPrompt = `Write an AGENTS.md for the project in the working directory: a short
orientation file for coding agents. Cover what the project is, how it is
laid out, how to build and test it, and any conventions an agent must
follow. Base it only on the directory listing below; keep it under 60
lines of markdown. Respond with the file content only.

Directory listing:
%s`

// initAgentsMD asks the model to draft an AGENTS.md and writes it into
// the work directory.
func (s *Soul) initAgentsMD(ctx context.Context) error {
	workDir := "."
	if s.rt.Session != nil {
		workDir = s.rt.Session.WorkDir
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		return fmt.Errorf("read work dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}

	final, err := s.rt.LLM.Complete(ctx, s.agent.SystemPrompt,
		[]message.Message{message.UserText(fmt.Sprintf(initPrompt, strings.Join(names, "\n")))})
	if err != nil {
		return err
	}

	path := filepath.Join(workDir, "AGENTS.md")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(final.Message.Text())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write AGENTS.md: %w", err)
	}
	s.say("Wrote " + path)
	return nil
}

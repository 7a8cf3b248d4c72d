package soul

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yanmxa/kimi/internal/agent"
	"github.com/yanmxa/kimi/internal/history"
	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/runtime"
	"github.com/yanmxa/kimi/internal/tool"
)

// Spawn runs the named sub-agent to completion and returns its final
// text. Implements tool.SubagentSpawner for the Task tool.
func (s *Soul) Spawn(ctx context.Context, req tool.SpawnRequest) (string, error) {
	entry, ok := s.rt.Labor.Lookup(req.Name)
	if !ok {
		return "", fmt.Errorf("unknown sub-agent %q", req.Name)
	}

	ctxFile, err := s.subagentContextFile()
	if err != nil {
		return "", err
	}
	subCtx, err := history.Open(ctxFile)
	if err != nil {
		return "", err
	}
	defer subCtx.Close()

	subSoul, err := New(entry.Agent, entry.Runtime, subCtx, s.wire.ForSubagent(req.TaskToolCallID))
	if err != nil {
		return "", err
	}
	subSoul.sub = true
	subSoul.thinking = s.thinking

	if err := subSoul.Run(ctx, Input{Text: req.Prompt}); err != nil {
		return "", err
	}

	return finalAssistantText(subCtx.History()), nil
}

// CreateDynamic registers a new dynamic sub-agent in the shared labor
// market. Implements tool.SubagentSpawner for the CreateSubagent tool.
func (s *Soul) CreateDynamic(name, description, systemPrompt string, toolIDs []string) error {
	if name == "" {
		return fmt.Errorf("sub-agent name is required")
	}
	if len(toolIDs) == 0 {
		toolIDs = s.agent.ToolIDs
	}

	workDir := ""
	if s.rt.Session != nil {
		workDir = s.rt.Session.WorkDir
	}
	a, err := agent.BuildDynamic(name, description, systemPrompt, toolIDs,
		s.rt.Registry, tool.Deps{Config: s.rt.Config, WorkDir: workDir})
	if err != nil {
		return err
	}

	return s.rt.Labor.RegisterDynamic(&runtime.Entry{
		Agent:   a,
		Runtime: s.rt.CloneForDynamicSubagent(),
	})
}

// SubagentNames lists the registered sub-agents.
func (s *Soul) SubagentNames() []string {
	return s.rt.Labor.Names()
}

// subagentContextFile allocates a fresh context file for one sub-agent
// invocation, rotated within the session directory.
func (s *Soul) subagentContextFile() (string, error) {
	dir := filepath.Dir(s.ctx.Path())
	for m := 1; ; m++ {
		candidate := filepath.Join(dir, fmt.Sprintf("subagent_%d.jsonl", m))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("scan subagent contexts: %w", err)
		}
	}
}

// finalAssistantText extracts the text of the last assistant message.
func finalAssistantText(msgs []message.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleAssistant {
			if text := msgs[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

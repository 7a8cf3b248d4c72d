package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanmxa/kimi/internal/message"
)

// TaskID is the registry identifier of the Task tool.
const TaskID = "kimi.tools.task:Task"

// Task delegates a self-contained piece of work to a registered
// sub-agent with an isolated context.
type Task struct{}

func (t *Task) Name() string { return "Task" }

func (t *Task) Description() string {
	return "Delegate a task to a sub-agent. The sub-agent runs with its own " +
		"conversation context and returns its final answer as this tool's output."
}

func (t *Task) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "Short (3-5 word) description of the task.",
			},
			"subagent_name": map[string]any{
				"type":        "string",
				"description": "Name of the sub-agent to dispatch to.",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "The full task prompt for the sub-agent.",
			},
		},
		"required": []any{"subagent_name", "prompt"},
	}
}

func (t *Task) Invoke(ctx context.Context, args map[string]any, tc *Context) (message.ToolReturn, error) {
	name, _ := args["subagent_name"].(string)
	prompt, _ := args["prompt"].(string)

	if tc.Spawner == nil {
		return message.Error("sub-agent delegation is not available here", ""), nil
	}

	output, err := tc.Spawner.Spawn(ctx, SpawnRequest{
		Name:           name,
		Prompt:         prompt,
		TaskToolCallID: tc.CallID,
	})
	if err != nil {
		known := strings.Join(tc.Spawner.SubagentNames(), ", ")
		return message.Error(fmt.Sprintf("sub-agent %q failed", name),
			fmt.Sprintf("%v (registered sub-agents: %s)", err, known)), nil
	}
	return message.Ok(output), nil
}

// CreateSubagentID is the registry identifier of the CreateSubagent tool.
const CreateSubagentID = "kimi.tools.task:CreateSubagent"

// CreateSubagent registers a new dynamic sub-agent that later Task calls
// can dispatch to. Dynamic sub-agents share the caller's labor market,
// so they can create further sub-agents themselves.
type CreateSubagent struct{}

func (t *CreateSubagent) Name() string { return "CreateSubagent" }

func (t *CreateSubagent) Description() string {
	return "Create a named sub-agent with its own system prompt and tool set. " +
		"Dispatch work to it afterwards with the Task tool."
}

func (t *CreateSubagent) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Unique sub-agent name.",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "What this sub-agent is for.",
			},
			"system_prompt": map[string]any{
				"type":        "string",
				"description": "The sub-agent's system prompt.",
			},
			"tools": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Tool identifiers the sub-agent may use (defaults to the caller's set).",
			},
		},
		"required": []any{"name", "system_prompt"},
	}
}

func (t *CreateSubagent) Invoke(_ context.Context, args map[string]any, tc *Context) (message.ToolReturn, error) {
	name, _ := args["name"].(string)
	description, _ := args["description"].(string)
	systemPrompt, _ := args["system_prompt"].(string)

	var tools []string
	if raw, ok := args["tools"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tools = append(tools, s)
			}
		}
	}

	if tc.Spawner == nil {
		return message.Error("sub-agent creation is not available here", ""), nil
	}
	if err := tc.Spawner.CreateDynamic(name, description, systemPrompt, tools); err != nil {
		return message.Error(fmt.Sprintf("cannot create sub-agent %q", name), err.Error()), nil
	}
	return message.Ok(fmt.Sprintf("sub-agent %q registered; dispatch to it with Task", name)), nil
}

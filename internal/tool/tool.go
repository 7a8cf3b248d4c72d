// Package tool provides the tool contract, the build-time registry, and
// the dispatcher that executes a step's tool calls: argument validation,
// approval gating, parallel execution, and call-order result collection.
package tool

import (
	"context"
	"errors"

	"github.com/yanmxa/kimi/internal/approval"
	"github.com/yanmxa/kimi/internal/config"
	"github.com/yanmxa/kimi/internal/dmail"
	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/wire"
)

// ErrRejected is returned by a tool whose approval request was denied.
// The dispatcher maps it to a Rejected result.
var ErrRejected = errors.New("rejected by user")

// Tool is a named, schemaed callable the model may invoke.
type Tool interface {
	// Name is unique within an agent's tool set.
	Name() string
	// Description is shown to the model.
	Description() string
	// Schema is the JSON Schema of the tool's arguments.
	Schema() map[string]any
	// Invoke runs the tool. Long-running tools should honor ctx.
	Invoke(ctx context.Context, args map[string]any, tc *Context) (message.ToolReturn, error)
}

// Context is the bounded capability set a tool sees during one call.
// It is passed explicitly so approval requests correlate to the right
// call without hidden state.
type Context struct {
	// CallID is the id of the tool call being executed.
	CallID string
	// Approval gates side-effectful actions.
	Approval *approval.Gate
	// Wire streams sub-events (content, status) to the UI.
	Wire *wire.Producer
	// WorkDir is the session's work directory.
	WorkDir string
	// Environ is the agent's environment.
	Environ map[string]string
	// Config is the runtime configuration.
	Config *config.Config

	// Denwa is the Soul's D-Mail buffer (SendDMail only).
	Denwa *dmail.DenwaRenji
	// NCheckpoints reports the context's checkpoint count (SendDMail only).
	NCheckpoints func() uint32
	// Spawner delegates to sub-agents (Task and CreateSubagent only).
	Spawner SubagentSpawner
}

// SubagentSpawner is implemented by the Soul. It decouples the
// delegation tools from the step-loop package.
type SubagentSpawner interface {
	// Spawn runs the named sub-agent to completion with the given prompt
	// and returns its final text.
	Spawn(ctx context.Context, req SpawnRequest) (string, error)
	// CreateDynamic registers a new dynamic sub-agent in the shared
	// labor market.
	CreateDynamic(name, description, systemPrompt string, tools []string) error
	// SubagentNames lists the currently registered sub-agents.
	SubagentNames() []string
}

// SpawnRequest asks for one sub-agent invocation.
type SpawnRequest struct {
	Name           string
	Prompt         string
	TaskToolCallID string
}

// Package runtime holds the per-agent collaboration record: config, LLM
// binding, session, D-Mail buffer, approval gate, labor market, and
// environment. Clones produce isolated sub-agent runtimes.
package runtime

import (
	"github.com/yanmxa/kimi/internal/client"
	"github.com/yanmxa/kimi/internal/config"
	"github.com/yanmxa/kimi/internal/dmail"
	"github.com/yanmxa/kimi/internal/approval"
	"github.com/yanmxa/kimi/internal/session"
	"github.com/yanmxa/kimi/internal/tool"
)

// Runtime is the collaboration record bound to one agent.
type Runtime struct {
	Config   *config.Config
	LLM      *client.Client
	Session  *session.Session
	Sessions *session.Store

	// PromptArgs are extra system-prompt template arguments.
	PromptArgs map[string]string

	// DenwaRenji is this agent's private D-Mail buffer.
	DenwaRenji *dmail.DenwaRenji

	// Approval is shared by an agent and all of its sub-agents so
	// approvals surface at the root UI.
	Approval *approval.Gate

	// Labor is the sub-agent registry visible to this agent.
	Labor *Market

	// Environ is the agent's environment variables.
	Environ map[string]string

	// Registry is the build-time tool table, shared by all runtimes so
	// dynamic sub-agents can resolve tool identifiers.
	Registry *tool.Registry
}

// New creates a root runtime.
func New(cfg *config.Config, llm *client.Client, sess *session.Session,
	sessions *session.Store, gate *approval.Gate, environ map[string]string) *Runtime {
	return &Runtime{
		Config:     cfg,
		LLM:        llm,
		Session:    sess,
		Sessions:   sessions,
		DenwaRenji: dmail.New(),
		Approval:   gate,
		Labor:      NewMarket(),
		Environ:    environ,
	}
}

// CloneForFixedSubagent derives the runtime of a spec-declared
// sub-agent: a fresh D-Mail buffer and a fresh labor market, everything
// else shared. Fixed sub-agents are leaves; they cannot delegate
// further or see their siblings.
func (r *Runtime) CloneForFixedSubagent() *Runtime {
	clone := *r
	clone.DenwaRenji = dmail.New()
	clone.Labor = NewMarket()
	return &clone
}

// CloneForDynamicSubagent derives the runtime of a runtime-created
// sub-agent: a fresh D-Mail buffer but the parent's labor market, so
// dynamic sub-agents form a flat pool that can keep delegating.
func (r *Runtime) CloneForDynamicSubagent() *Runtime {
	clone := *r
	clone.DenwaRenji = dmail.New()
	return &clone
}

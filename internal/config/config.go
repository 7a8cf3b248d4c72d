// Package config provides the runtime configuration of the CLI: the
// loop-control knobs, the LLM binding, and approval rules. Settings are
// loaded from the user-level state dir and overlaid by project-level
// settings, with environment variables taking final precedence.
package config

import (
	"os"
	"path/filepath"
)

// Config is the effective configuration after all overlays.
type Config struct {
	// Provider selects the chat provider ("anthropic", "moonshot").
	Provider string `json:"provider,omitempty"`
	// Model is the model identifier passed to the provider.
	Model string `json:"model,omitempty"`
	// MaxContextSize overrides the model's context window in tokens.
	MaxContextSize int `json:"max_context_size,omitempty"`

	// MaxStepsPerTurn bounds the step loop.
	MaxStepsPerTurn int `json:"max_steps_per_turn,omitempty"`
	// MaxRetriesPerStep bounds provider retries within one step.
	MaxRetriesPerStep int `json:"max_retries_per_step,omitempty"`
	// MaxPreservedMessages is how many trailing user/assistant messages
	// compaction keeps verbatim.
	MaxPreservedMessages int `json:"max_preserved_messages_on_compact,omitempty"`
	// ReservedTokens is the headroom that triggers compaction.
	ReservedTokens uint64 `json:"reserved_tokens,omitempty"`
	// Yolo auto-approves every approval request.
	Yolo bool `json:"yolo,omitempty"`

	// Approvals configures pattern-based auto-approval.
	Approvals ApprovalSettings `json:"approvals,omitempty"`

	// StateDir is the per-user state root (default ~/.kimi).
	StateDir string `json:"-"`
}

// ApprovalSettings holds doublestar patterns matched against
// "<sender>:<action>" labels; matches are approved without prompting.
type ApprovalSettings struct {
	Allow []string `json:"allow,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		MaxStepsPerTurn:      100,
		MaxRetriesPerStep:    3,
		MaxPreservedMessages: 2,
		ReservedTokens:       50_000,
		StateDir:             filepath.Join(home, ".kimi"),
	}
}

// Package client binds a chat provider to a model with token limits and
// capability checks. One Client is shared by an agent and its sub-agents;
// each call is independent.
package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/provider"
)

const (
	defaultMaxTokens      = 16384
	defaultMaxContextSize = 200_000
)

// ErrLLMNotSet is returned when no provider/model is configured.
var ErrLLMNotSet = fmt.Errorf("no LLM configured")

// NotSupportedError reports capabilities a request needs that the bound
// LLM lacks.
type NotSupportedError struct {
	Missing []provider.Capability
}

func (e *NotSupportedError) Error() string {
	caps := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		caps[i] = string(c)
	}
	return "LLM does not support: " + strings.Join(caps, ", ")
}

// Client is the LLM binding of a runtime.
type Client struct {
	Provider provider.ChatProvider
	Model    string

	// MaxTokens bounds one completion; 0 means the default.
	MaxTokens int
	// MaxContextSize is the model's context window in tokens; 0 means
	// the default. Compaction triggers against this.
	MaxContextSize int
	// PromptCacheKey is forwarded to providers that support server-side
	// prompt caching (typically the session id).
	PromptCacheKey string
}

// Supports reports whether the bound LLM carries the capability.
func (c *Client) Supports(cap provider.Capability) bool {
	if c == nil || c.Provider == nil {
		return false
	}
	return provider.Supports(c.Provider, cap)
}

// Require returns a NotSupportedError listing whichever of the given
// capabilities the bound LLM lacks, or nil.
func (c *Client) Require(caps ...provider.Capability) error {
	var missing []provider.Capability
	for _, cap := range caps {
		if !c.Supports(cap) {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		return &NotSupportedError{Missing: missing}
	}
	return nil
}

// Step starts one streaming model call.
func (c *Client) Step(ctx context.Context, sysPrompt string, tools []provider.ToolSchema,
	history []message.Message, thinking bool) (<-chan provider.StreamChunk, error) {
	if c == nil || c.Provider == nil || c.Model == "" {
		return nil, ErrLLMNotSet
	}
	return c.Provider.Step(ctx, provider.Request{
		Model:          c.Model,
		SystemPrompt:   sysPrompt,
		Tools:          tools,
		History:        history,
		MaxTokens:      c.ResolveMaxTokens(),
		Thinking:       thinking,
		PromptCacheKey: c.PromptCacheKey,
	}), nil
}

// Complete runs one call with no tools and drains its stream into the
// final message. Used for utility calls such as compaction summaries and
// /init.
func (c *Client) Complete(ctx context.Context, sysPrompt string, history []message.Message) (*provider.Final, error) {
	ch, err := c.Step(ctx, sysPrompt, nil, history, false)
	if err != nil {
		return nil, err
	}
	return provider.Collect(ctx, ch)
}

// ResolveMaxTokens returns the effective completion token limit.
func (c *Client) ResolveMaxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return defaultMaxTokens
}

// ResolveMaxContextSize returns the effective context window size.
func (c *Client) ResolveMaxContextSize() uint64 {
	if c.MaxContextSize > 0 {
		return uint64(c.MaxContextSize)
	}
	return defaultMaxContextSize
}

// Name returns the provider name.
func (c *Client) Name() string {
	if c == nil || c.Provider == nil {
		return ""
	}
	return c.Provider.Name()
}

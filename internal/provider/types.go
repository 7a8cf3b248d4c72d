// Package provider defines the abstract chat-provider interface the core
// consumes: a streaming step call plus capability flags. Concrete
// adapters live in subpackages; the core never imports an SDK directly.
package provider

import (
	"context"

	"github.com/yanmxa/kimi/internal/message"
)

// Capability is a feature flag a provider/model pair may support.
type Capability string

const (
	// CapImageIn means image content parts are accepted as input.
	CapImageIn Capability = "image_in"
	// CapThinking means the model supports a thinking effort toggle.
	CapThinking Capability = "thinking"
	// CapAudioIn means audio content parts are accepted as input.
	CapAudioIn Capability = "audio_in"
	// CapVideoIn means video content parts are accepted as input.
	CapVideoIn Capability = "video_in"
)

// ToolSchema describes one callable tool to the model.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request is one model call.
type Request struct {
	Model        string
	SystemPrompt string
	Tools        []ToolSchema
	History      []message.Message
	MaxTokens    int
	Thinking     bool
	// PromptCacheKey enables server-side prompt cache reuse across the
	// steps of one session. Optional.
	PromptCacheKey string
}

// ChunkType discriminates stream chunks.
type ChunkType string

const (
	// ChunkContent carries one content part (text, thinking, media).
	ChunkContent ChunkType = "content"
	// ChunkToolCall announces a tool call once id and name are known.
	ChunkToolCall ChunkType = "tool_call"
	// ChunkToolCallPart is a streaming fragment of tool-call arguments.
	ChunkToolCallPart ChunkType = "tool_call_part"
	// ChunkStatus is a transient status note for the UI.
	ChunkStatus ChunkType = "status"
	// ChunkDone terminates the stream with the final message.
	ChunkDone ChunkType = "done"
	// ChunkError terminates the stream with an error.
	ChunkError ChunkType = "error"
)

// StreamChunk is one event of a streaming step call.
type StreamChunk struct {
	Type         ChunkType
	Part         message.Part          // ChunkContent
	ToolCall     *message.ToolCall     // ChunkToolCall
	ToolCallPart *message.ToolCallPart // ChunkToolCallPart
	Status       string                // ChunkStatus
	Final        *Final                // ChunkDone
	Err          error                 // ChunkError
}

// Final is the assembled outcome of a step call.
type Final struct {
	// Message is the complete assistant message, tool calls included.
	Message message.Message
	// TokenCount is the cumulative context size after this call
	// (prompt tokens plus completion tokens).
	TokenCount uint64
	// ToolCalls are the assembled tool calls, in emission order.
	ToolCalls []message.ToolCall
	// StopReason is the provider's stop reason, normalized to
	// "end_turn", "tool_use", or "max_tokens" for those outcomes. The
	// moonshot adapter passes any other finish reason through unchanged.
	StopReason string
}

// ChatProvider is the interface all adapters implement.
type ChatProvider interface {
	// Step sends one model call and streams its output. The channel is
	// closed after a ChunkDone or ChunkError.
	Step(ctx context.Context, req Request) <-chan StreamChunk

	// Capabilities reports the feature flags of the bound endpoint.
	Capabilities() []Capability

	// Name returns the provider name (e.g. "anthropic").
	Name() string
}

// Collect drains a stream into its Final, forwarding nothing. Callers
// that want the incremental chunks should range the channel themselves.
func Collect(ctx context.Context, ch <-chan StreamChunk) (*Final, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return nil, ErrEmptyResponse
			}
			switch chunk.Type {
			case ChunkDone:
				return chunk.Final, nil
			case ChunkError:
				return nil, chunk.Err
			}
		}
	}
}

// Supports reports whether the provider carries the given capability.
func Supports(p ChatProvider, cap Capability) bool {
	for _, c := range p.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}

// Package anthropic implements the ChatProvider interface using the
// Anthropic SDK with server-sent streaming.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/yanmxa/kimi/internal/log"
	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/provider"
)

const thinkingBudgetTokens = 8192

// Client implements provider.ChatProvider on top of the Anthropic SDK.
type Client struct {
	client sdk.Client
	name   string
}

// NewClient creates a new adapter around an SDK client.
func NewClient(client sdk.Client, name string) *Client {
	return &Client{client: client, name: name}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Capabilities reports the flags of the Anthropic endpoint.
func (c *Client) Capabilities() []provider.Capability {
	return []provider.Capability{provider.CapImageIn, provider.CapThinking}
}

// Step sends one model call and streams its output.
func (c *Client) Step(ctx context.Context, req provider.Request) <-chan provider.StreamChunk {
	ch := make(chan provider.StreamChunk)

	go func() {
		defer close(ch)

		params := sdk.MessageNewParams{
			Model:     sdk.Model(req.Model),
			MaxTokens: int64(req.MaxTokens),
			Messages:  convertHistory(req.History),
		}
		if req.SystemPrompt != "" {
			params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
		}
		if req.Thinking {
			params.Thinking = sdk.ThinkingConfigParamOfEnabled(thinkingBudgetTokens)
		}
		if len(req.Tools) > 0 {
			params.Tools = convertTools(req.Tools)
		}

		stream := c.client.Messages.NewStreaming(ctx, params)

		var (
			final        provider.Final
			parts        message.Parts
			text         string
			think        string
			curToolID    string
			curToolName  string
			curToolInput string
			inputTokens  uint64
			outputTokens uint64
		)

		flushText := func() {
			if text != "" {
				parts = append(parts, message.Text{Text: text})
				text = ""
			}
		}
		flushThink := func() {
			if think != "" {
				parts = append(parts, message.Think{Think: think})
				think = ""
			}
		}

		start := time.Now()
		for stream.Next() {
			event := stream.Current()

			switch event.Type {
			case "message_start":
				msgStart := event.AsMessageStart()
				inputTokens = uint64(msgStart.Message.Usage.InputTokens)

			case "content_block_start":
				block := event.AsContentBlockStart()
				if block.ContentBlock.Type == "tool_use" {
					flushThink()
					flushText()
					curToolID = block.ContentBlock.ID
					curToolName = block.ContentBlock.Name
					curToolInput = ""
					ch <- provider.StreamChunk{
						Type:     provider.ChunkToolCall,
						ToolCall: &message.ToolCall{ID: curToolID, Name: curToolName},
					}
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				switch delta.Delta.Type {
				case "text_delta":
					if delta.Delta.Text != "" {
						ch <- provider.StreamChunk{
							Type: provider.ChunkContent,
							Part: message.Text{Text: delta.Delta.Text},
						}
						text += delta.Delta.Text
					}
				case "thinking_delta":
					if delta.Delta.Thinking != "" {
						ch <- provider.StreamChunk{
							Type: provider.ChunkContent,
							Part: message.Think{Think: delta.Delta.Thinking},
						}
						think += delta.Delta.Thinking
					}
				case "input_json_delta":
					if delta.Delta.PartialJSON != "" {
						ch <- provider.StreamChunk{
							Type: provider.ChunkToolCallPart,
							ToolCallPart: &message.ToolCallPart{
								ID:             curToolID,
								ArgumentsDelta: delta.Delta.PartialJSON,
							},
						}
						curToolInput += delta.Delta.PartialJSON
					}
				}

			case "content_block_stop":
				if curToolID != "" {
					call := message.ToolCall{ID: curToolID, Name: curToolName, Arguments: curToolInput}
					parts = append(parts, call)
					final.ToolCalls = append(final.ToolCalls, call)
					curToolID, curToolName, curToolInput = "", "", ""
				} else {
					flushThink()
					flushText()
				}

			case "message_delta":
				msgDelta := event.AsMessageDelta()
				outputTokens = uint64(msgDelta.Usage.OutputTokens)
				switch msgDelta.Delta.StopReason {
				case "tool_use":
					final.StopReason = "tool_use"
				case "max_tokens":
					final.StopReason = "max_tokens"
				default:
					final.StopReason = "end_turn"
				}
			}
		}

		log.Logger().Debug("anthropic stream done",
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(start)))

		if err := stream.Err(); err != nil {
			ch <- provider.StreamChunk{Type: provider.ChunkError, Err: translateErr(err)}
			return
		}

		flushThink()
		flushText()
		if len(parts) == 0 {
			ch <- provider.StreamChunk{Type: provider.ChunkError, Err: provider.ErrEmptyResponse}
			return
		}

		final.Message = message.Message{Role: message.RoleAssistant, Content: parts}
		final.TokenCount = inputTokens + outputTokens
		ch <- provider.StreamChunk{Type: provider.ChunkDone, Final: &final}
	}()

	return ch
}

// convertHistory maps part-based messages onto Anthropic message params.
func convertHistory(history []message.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case message.RoleUser:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.Content))
			for _, part := range msg.Content {
				switch v := part.(type) {
				case message.Text:
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				case message.ImageURL:
					blocks = append(blocks, sdk.ContentBlockParamUnion{
						OfImage: &sdk.ImageBlockParam{
							Source: sdk.ImageBlockParamSourceUnion{
								OfURL: &sdk.URLImageSourceParam{URL: v.URL},
							},
						},
					})
				}
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewUserMessage(blocks...))
			}

		case message.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.Content))
			for _, part := range msg.Content {
				switch v := part.(type) {
				case message.Text:
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				case message.ToolCall:
					var input any
					if v.Arguments != "" {
						if err := json.Unmarshal([]byte(v.Arguments), &input); err != nil {
							input = v.Arguments
						}
					} else {
						input = map[string]any{}
					}
					blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
				}
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}

		case message.RoleTool:
			if msg.Return == nil {
				continue
			}
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(
				msg.ToolCallID,
				renderReturn(*msg.Return),
				msg.Return.Kind != message.ReturnOk,
			)))
		}
	}
	return out
}

// renderReturn flattens a tool return into the text the model sees.
func renderReturn(ret message.ToolReturn) string {
	switch ret.Kind {
	case message.ReturnOk:
		if ret.Output != "" {
			return ret.Output
		}
		return ret.Message
	case message.ReturnRejected:
		return ret.Message
	default:
		if ret.Details != "" {
			return ret.Message + "\n" + ret.Details
		}
		return ret.Message
	}
}

func convertTools(tools []provider.ToolSchema) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := sdk.ToolInputSchemaParam{}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := t.Parameters["required"].([]any); ok {
			strs := make([]string, 0, len(required))
			for _, r := range required {
				if s, ok := r.(string); ok {
					strs = append(strs, s)
				}
			}
			schema.Required = strs
		} else if strs, ok := t.Parameters["required"].([]string); ok {
			schema.Required = strs
		}
		out = append(out, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

// translateErr maps SDK errors to the core's retry classification.
func translateErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &provider.HTTPError{Status: apiErr.StatusCode, Msg: apiErr.Error()}
	}
	return err
}

var _ provider.ChatProvider = (*Client)(nil)

// Package moonshot implements the ChatProvider interface against the
// Moonshot AI platform. The API is OpenAI-compatible, so it reuses the
// openai-go SDK with a custom base URL.
package moonshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"

	"github.com/yanmxa/kimi/internal/log"
	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/provider"
)

// Client implements provider.ChatProvider for Moonshot AI.
type Client struct {
	client openai.Client
	name   string
}

// NewClient creates a new adapter around an OpenAI SDK client.
func NewClient(client openai.Client, name string) *Client {
	return &Client{client: client, name: name}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Capabilities reports the flags of the Moonshot endpoint. Kimi thinking
// models accept a thinking toggle; vision models accept image input.
func (c *Client) Capabilities() []provider.Capability {
	return []provider.Capability{provider.CapImageIn, provider.CapThinking}
}

// Step sends one model call and streams its output.
func (c *Client) Step(ctx context.Context, req provider.Request) <-chan provider.StreamChunk {
	ch := make(chan provider.StreamChunk)

	go func() {
		defer close(ch)

		params := openai.ChatCompletionNewParams{
			Model:    req.Model,
			Messages: convertHistory(req.SystemPrompt, req.History),
		}
		if req.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}
		if req.Thinking {
			params.SetExtraFields(map[string]any{
				"thinking": map[string]any{"type": "enabled"},
			})
		}
		if req.PromptCacheKey != "" {
			params.PromptCacheKey = openai.String(req.PromptCacheKey)
		}
		if len(req.Tools) > 0 {
			params.Tools = convertTools(req.Tools)
		}

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)

		var (
			final     provider.Final
			parts     message.Parts
			text      string
			think     string
			toolCalls = map[int]*message.ToolCall{}
			order     []int
			usageIn   uint64
			usageOut  uint64
		)

		start := time.Now()
		for stream.Next() {
			chunk := stream.Current()

			for _, choice := range chunk.Choices {
				// reasoning_content is a Moonshot extension not in the
				// SDK struct; pull it from the raw delta.
				if raw := choice.Delta.RawJSON(); raw != "" {
					var delta struct {
						ReasoningContent string `json:"reasoning_content"`
					}
					if err := json.Unmarshal([]byte(raw), &delta); err == nil && delta.ReasoningContent != "" {
						ch <- provider.StreamChunk{
							Type: provider.ChunkContent,
							Part: message.Think{Think: delta.ReasoningContent},
						}
						think += delta.ReasoningContent
					}
				}

				if choice.Delta.Content != "" {
					ch <- provider.StreamChunk{
						Type: provider.ChunkContent,
						Part: message.Text{Text: choice.Delta.Content},
					}
					text += choice.Delta.Content
				}

				for _, tc := range choice.Delta.ToolCalls {
					idx := int(tc.Index)
					if _, exists := toolCalls[idx]; !exists {
						toolCalls[idx] = &message.ToolCall{ID: tc.ID, Name: tc.Function.Name}
						order = append(order, idx)
						ch <- provider.StreamChunk{
							Type:     provider.ChunkToolCall,
							ToolCall: &message.ToolCall{ID: tc.ID, Name: tc.Function.Name},
						}
					}
					if tc.Function.Arguments != "" {
						toolCalls[idx].Arguments += tc.Function.Arguments
						ch <- provider.StreamChunk{
							Type: provider.ChunkToolCallPart,
							ToolCallPart: &message.ToolCallPart{
								ID:             toolCalls[idx].ID,
								ArgumentsDelta: tc.Function.Arguments,
							},
						}
					}
				}

				if choice.FinishReason != "" {
					switch choice.FinishReason {
					case "stop":
						final.StopReason = "end_turn"
					case "tool_calls":
						final.StopReason = "tool_use"
					case "length":
						final.StopReason = "max_tokens"
					default:
						final.StopReason = choice.FinishReason
					}
				}
			}

			if chunk.Usage.PromptTokens > 0 {
				usageIn = uint64(chunk.Usage.PromptTokens)
			}
			if chunk.Usage.CompletionTokens > 0 {
				usageOut = uint64(chunk.Usage.CompletionTokens)
			}
		}

		log.Logger().Debug("moonshot stream done",
			zap.String("model", req.Model),
			zap.Duration("duration", time.Since(start)))

		if err := stream.Err(); err != nil {
			ch <- provider.StreamChunk{Type: provider.ChunkError, Err: translateErr(err)}
			return
		}

		if think != "" {
			parts = append(parts, message.Think{Think: think})
		}
		if text != "" {
			parts = append(parts, message.Text{Text: text})
		}
		sort.Ints(order)
		for _, idx := range order {
			parts = append(parts, *toolCalls[idx])
			final.ToolCalls = append(final.ToolCalls, *toolCalls[idx])
		}
		if len(parts) == 0 {
			ch <- provider.StreamChunk{Type: provider.ChunkError, Err: provider.ErrEmptyResponse}
			return
		}

		final.Message = message.Message{Role: message.RoleAssistant, Content: parts}
		final.TokenCount = usageIn + usageOut
		ch <- provider.StreamChunk{Type: provider.ChunkDone, Final: &final}
	}()

	return ch
}

// convertHistory maps part-based messages onto OpenAI chat params.
func convertHistory(systemPrompt string, history []message.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range history {
		switch msg.Role {
		case message.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))

		case message.RoleUser:
			var media []openai.ChatCompletionContentPartUnionParam
			for _, part := range msg.Content {
				switch v := part.(type) {
				case message.ImageURL:
					media = append(media, openai.ChatCompletionContentPartUnionParam{
						OfImageURL: &openai.ChatCompletionContentPartImageParam{
							ImageURL: openai.ChatCompletionContentPartImageImageURLParam{URL: v.URL},
						},
					})
				case message.Text:
					media = append(media, openai.ChatCompletionContentPartUnionParam{
						OfText: &openai.ChatCompletionContentPartTextParam{Text: v.Text},
					})
				}
			}
			if len(media) == 1 && media[0].OfText != nil {
				out = append(out, openai.UserMessage(media[0].OfText.Text))
			} else if len(media) > 0 {
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfUser: &openai.ChatCompletionUserMessageParam{
						Content: openai.ChatCompletionUserMessageParamContentUnion{
							OfArrayOfContentParts: media,
						},
					},
				})
			}

		case message.RoleAssistant:
			var asst openai.ChatCompletionAssistantMessageParam
			var thinking string
			if text := msg.Text(); text != "" {
				asst.Content.OfString = openai.Opt(text)
			}
			for _, part := range msg.Content {
				switch v := part.(type) {
				case message.Think:
					thinking += v.Think
				case message.ToolCall:
					asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: v.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      v.Name,
								Arguments: v.Arguments,
							},
						},
					})
				}
			}
			// Moonshot requires reasoning_content replay on assistant
			// messages when thinking is enabled.
			asst.SetExtraFields(map[string]any{"reasoning_content": thinking})
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})

		case message.RoleTool:
			if msg.Return == nil {
				continue
			}
			out = append(out, openai.ToolMessage(renderReturn(*msg.Return), msg.ToolCallID))
		}
	}
	return out
}

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
			return fmt.Sprintf("%s\n%s", ret.Message, ret.Details)
		}
		return ret.Message
	}
}

func convertTools(tools []provider.ToolSchema) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.Parameters),
				},
			},
		})
	}
	return out
}

// translateErr maps SDK errors to the core's retry classification.
func translateErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &provider.HTTPError{Status: apiErr.StatusCode, Msg: apiErr.Error()}
	}
	return err
}

var _ provider.ChatProvider = (*Client)(nil)

package message

import (
	"encoding/json"
	"fmt"
)

// Part is one element of a message's content. Concrete types carry a
// "type" discriminator on the wire and in the context file.
type Part interface {
	partType() string
}

// Text is plain model- or user-visible text.
type Text struct {
	Text string `json:"text"`
}

// Think is model-internal reasoning. It is persisted so providers that
// require reasoning replay on multi-turn conversations can resend it.
type Think struct {
	Think string `json:"think"`
}

// ImageURL references an image, either a remote URL or a data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// AudioURL references an audio clip.
type AudioURL struct {
	URL string `json:"url"`
}

// VideoURL references a video clip.
type VideoURL struct {
	URL string `json:"url"`
}

// ToolCall is a completed tool invocation request from the model.
// Arguments is the raw JSON argument object as emitted by the provider.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallPart is a streaming fragment of a tool call's arguments.
// It only ever appears on the wire; the persisted form is the assembled
// ToolCall inside the final assistant message.
type ToolCallPart struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta"`
}

func (Text) partType() string         { return "text" }
func (Think) partType() string        { return "think" }
func (ImageURL) partType() string     { return "image_url" }
func (AudioURL) partType() string     { return "audio_url" }
func (VideoURL) partType() string     { return "video_url" }
func (ToolCall) partType() string     { return "tool_call" }
func (ToolCallPart) partType() string { return "tool_call_part" }

// Parts is an ordered content sequence with a type-discriminated JSON form.
type Parts []Part

type partEnvelope struct {
	Type string `json:"type"`

	Text           string `json:"text,omitempty"`
	Think          string `json:"think,omitempty"`
	URL            string `json:"url,omitempty"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	Arguments      string `json:"arguments,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// MarshalJSON encodes each part with its "type" discriminator.
func (ps Parts) MarshalJSON() ([]byte, error) {
	out := make([]partEnvelope, 0, len(ps))
	for _, p := range ps {
		env := partEnvelope{Type: p.partType()}
		switch v := p.(type) {
		case Text:
			env.Text = v.Text
		case Think:
			env.Think = v.Think
		case ImageURL:
			env.URL = v.URL
		case AudioURL:
			env.URL = v.URL
		case VideoURL:
			env.URL = v.URL
		case ToolCall:
			env.ID, env.Name, env.Arguments = v.ID, v.Name, v.Arguments
		case ToolCallPart:
			env.ID, env.Name, env.ArgumentsDelta = v.ID, v.Name, v.ArgumentsDelta
		default:
			return nil, fmt.Errorf("unknown part type %T", p)
		}
		out = append(out, env)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a content array, dispatching on the "type" field.
func (ps *Parts) UnmarshalJSON(data []byte) error {
	var envs []partEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	parts := make(Parts, 0, len(envs))
	for _, env := range envs {
		switch env.Type {
		case "text":
			parts = append(parts, Text{Text: env.Text})
		case "think":
			parts = append(parts, Think{Think: env.Think})
		case "image_url":
			parts = append(parts, ImageURL{URL: env.URL})
		case "audio_url":
			parts = append(parts, AudioURL{URL: env.URL})
		case "video_url":
			parts = append(parts, VideoURL{URL: env.URL})
		case "tool_call":
			parts = append(parts, ToolCall{ID: env.ID, Name: env.Name, Arguments: env.Arguments})
		case "tool_call_part":
			parts = append(parts, ToolCallPart{ID: env.ID, Name: env.Name, ArgumentsDelta: env.ArgumentsDelta})
		default:
			return fmt.Errorf("unknown content part type %q", env.Type)
		}
	}
	*ps = parts
	return nil
}

package history

import (
	"encoding/json"
	"fmt"

	"github.com/yanmxa/kimi/internal/message"
)

// The context file holds three kinds of lines, discriminated by the
// reserved "_checkpoint" and "_usage" role values.
const (
	roleCheckpoint = "_checkpoint"
	roleUsage      = "_usage"
)

type recordKind int

const (
	recMessage recordKind = iota
	recCheckpoint
	recUsage
)

type record struct {
	kind         recordKind
	msg          message.Message
	checkpointID uint32
	tokenCount   uint64
}

type metaLine struct {
	Role       string  `json:"role"`
	ID         *uint32 `json:"id,omitempty"`
	TokenCount *uint64 `json:"token_count,omitempty"`
}

// decodeRecord parses one line of the context file.
func decodeRecord(line []byte) (record, error) {
	var probe struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return record{}, fmt.Errorf("malformed record: %w", err)
	}

	switch probe.Role {
	case roleCheckpoint:
		var meta metaLine
		if err := json.Unmarshal(line, &meta); err != nil {
			return record{}, err
		}
		if meta.ID == nil {
			return record{}, fmt.Errorf("checkpoint record missing id")
		}
		return record{kind: recCheckpoint, checkpointID: *meta.ID}, nil

	case roleUsage:
		var meta metaLine
		if err := json.Unmarshal(line, &meta); err != nil {
			return record{}, err
		}
		if meta.TokenCount == nil {
			return record{}, fmt.Errorf("usage record missing token_count")
		}
		return record{kind: recUsage, tokenCount: *meta.TokenCount}, nil

	default:
		var msg message.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return record{}, err
		}
		return record{kind: recMessage, msg: msg}, nil
	}
}

func encodeMessage(m message.Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

func encodeCheckpoint(id uint32) ([]byte, error) {
	return json.Marshal(metaLine{Role: roleCheckpoint, ID: &id})
}

func encodeUsage(tokens uint64) ([]byte, error) {
	return json.Marshal(metaLine{Role: roleUsage, TokenCount: &tokens})
}

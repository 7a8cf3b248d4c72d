// Package history provides the durable, append-only conversation log for
// one Soul: messages interleaved with checkpoint markers and token-usage
// snapshots, persisted as JSON lines. Appends are O(1); restore and
// revert are linear scans.
package history

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/yanmxa/kimi/internal/log"
	"github.com/yanmxa/kimi/internal/message"
)

// Context owns one context file and its in-memory mirror. It is not safe
// for concurrent mutation: the owning Soul is the sole writer. Readers
// may iterate History() snapshots but must not retain them across a
// RevertTo.
type Context struct {
	path string
	f    *os.File

	msgs           []message.Message
	tokenCount     uint64
	nextCheckpoint uint32
}

// Open opens or creates the context file at path and restores any
// existing state. Dangling tool calls left by a cancelled run are
// repaired with synthetic error results so the next turn starts from a
// consistent log.
func Open(path string) (*Context, error) {
	c := &Context{path: path}
	if err := c.restore(); err != nil {
		return nil, err
	}
	return c, nil
}

// restore scans the file line by line and rebuilds the in-memory state.
func (c *Context) restore() error {
	if c.f != nil {
		_ = c.f.Close()
		c.f = nil
	}

	c.msgs = nil
	c.tokenCount = 0
	c.nextCheckpoint = 0

	data, err := os.ReadFile(c.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read context file: %w", err)
	}
	if err == nil {
		if err := c.scan(string(data)); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open context file: %w", err)
	}
	c.f = f

	return c.repairDangling()
}

// scan parses the serialized log into in-memory state.
func (c *Context) scan(data string) error {
	lineNo := 0
	for _, line := range strings.Split(data, "\n") {
		lineNo++
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, err := decodeRecord([]byte(line))
		if err != nil {
			return fmt.Errorf("context file line %d: %w", lineNo, err)
		}
		switch rec.kind {
		case recMessage:
			c.msgs = append(c.msgs, rec.msg)
		case recCheckpoint:
			if rec.checkpointID+1 > c.nextCheckpoint {
				c.nextCheckpoint = rec.checkpointID + 1
			}
		case recUsage:
			c.tokenCount = rec.tokenCount
		}
	}
	return nil
}

// repairDangling appends a synthetic error result for every tool call of
// the final assistant message that has no matching tool message. This
// happens when a turn was cancelled mid-tool.
func (c *Context) repairDangling() error {
	last := -1
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Role == message.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 {
		return nil
	}

	answered := map[string]bool{}
	for _, m := range c.msgs[last+1:] {
		if m.Role == message.RoleTool {
			answered[m.ToolCallID] = true
		}
	}

	var repairs []message.Message
	for _, call := range c.msgs[last].ToolCalls() {
		if !answered[call.ID] {
			repairs = append(repairs, message.ToolMessage(call.ID,
				message.Error("interrupted", "the previous run ended before this tool call completed")))
		}
	}
	if len(repairs) == 0 {
		return nil
	}

	log.Logger().Warn("repairing dangling tool calls",
		zap.String("file", c.path),
		zap.Int("count", len(repairs)))
	return c.Append(repairs...)
}

// Append persists one or more messages and extends the in-memory mirror.
func (c *Context) Append(msgs ...message.Message) error {
	w := bufio.NewWriter(c.f)
	for _, m := range msgs {
		line, err := encodeMessage(m)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append context: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush context: %w", err)
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

// UpdateUsage records the cumulative token count reported by the provider.
func (c *Context) UpdateUsage(tokens uint64) error {
	line, err := encodeUsage(tokens)
	if err != nil {
		return err
	}
	if _, err := c.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write usage: %w", err)
	}
	c.tokenCount = tokens
	return nil
}

// Checkpoint allocates the next checkpoint id and writes its marker.
// With addUserMessage, a synthetic user message naming the checkpoint is
// appended so the model can reference it.
func (c *Context) Checkpoint(addUserMessage bool) (uint32, error) {
	id := c.nextCheckpoint
	line, err := encodeCheckpoint(id)
	if err != nil {
		return 0, err
	}
	if _, err := c.f.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("write checkpoint: %w", err)
	}
	c.nextCheckpoint = id + 1

	if addUserMessage {
		if err := c.Append(message.UserText(fmt.Sprintf("CHECKPOINT %d", id))); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// RevertTo truncates the context to the position just before the marker
// of checkpoint id. The current file is rotated aside (preserved for
// debugging) and a fresh active file is rebuilt from the retained prefix.
func (c *Context) RevertTo(id uint32) error {
	if id >= c.nextCheckpoint {
		return fmt.Errorf("checkpoint %d does not exist (have %d)", id, c.nextCheckpoint)
	}

	rotated, err := c.rotate()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(rotated)
	if err != nil {
		return fmt.Errorf("read rotated context: %w", err)
	}

	var keep []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		rec, err := decodeRecord([]byte(trimmed))
		if err != nil {
			return fmt.Errorf("rotated context: %w", err)
		}
		if rec.kind == recCheckpoint && rec.checkpointID == id {
			break
		}
		keep = append(keep, trimmed)
	}

	var sb strings.Builder
	for _, line := range keep {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(c.path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write reverted context: %w", err)
	}

	return c.restore()
}

// Clear drops all content, rotating the old file aside and opening a
// fresh empty one. Checkpoint numbering restarts at 0.
func (c *Context) Clear() error {
	if _, err := c.rotate(); err != nil {
		return err
	}
	if err := os.WriteFile(c.path, nil, 0o644); err != nil {
		return fmt.Errorf("write empty context: %w", err)
	}
	return c.restore()
}

// rotate closes the active file and renames it to the lowest unused
// context_<N> rotation slot, returning the rotated path.
func (c *Context) rotate() (string, error) {
	if c.f != nil {
		_ = c.f.Close()
		c.f = nil
	}

	dir := filepath.Dir(c.path)
	base := filepath.Base(c.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			if err := os.Rename(c.path, candidate); err != nil {
				return "", fmt.Errorf("rotate context: %w", err)
			}
			return candidate, nil
		}
	}
}

// Close releases the file handle.
func (c *Context) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}

// TokenCount returns the latest recorded cumulative token count.
func (c *Context) TokenCount() uint64 { return c.tokenCount }

// NCheckpoints returns the number of checkpoints in the active file
// (checkpoint ids are 0..NCheckpoints-1).
func (c *Context) NCheckpoints() uint32 { return c.nextCheckpoint }

// History returns the in-memory message snapshot.
func (c *Context) History() []message.Message { return c.msgs }

// Path returns the active context file path.
func (c *Context) Path() string { return c.path }

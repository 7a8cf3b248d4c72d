// Package wire provides the one-way typed event channel from the agent
// core to the UI. The producing side never blocks; the consuming side
// may opt into coalescing of fine-grained streaming events. All raw
// events can be mirrored to a record file for post-mortem replay.
package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/yanmxa/kimi/internal/message"
)

// Wire is an unbounded in-process event queue. Create one per root Soul
// with New, then hand SoulSide to the core and UISide to the consumer.
// Sub-agent Souls send through a ForSubagent producer of the parent's
// wire.
type Wire struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	closed bool
	record *os.File
}

// New creates an empty wire.
func New() *Wire {
	return &Wire{notify: make(chan struct{}, 1)}
}

// SetRecord mirrors every raw event to the given file as JSON lines.
// The record is a debugging channel; the context file is the source of truth.
func (w *Wire) SetRecord(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open wire record: %w", err)
	}
	w.mu.Lock()
	w.record = f
	w.mu.Unlock()
	return nil
}

// Close marks the wire closed. Pending events remain receivable;
// Receive returns ErrClosed once drained.
func (w *Wire) Close() {
	w.mu.Lock()
	w.closed = true
	if w.record != nil {
		_ = w.record.Close()
		w.record = nil
	}
	w.mu.Unlock()
	w.wake()
}

// ErrClosed is returned by Receive after the wire is closed and drained.
var ErrClosed = fmt.Errorf("wire closed")

func (w *Wire) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Wire) send(ev Event) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, ev)
	if w.record != nil {
		if line, err := recordLine(ev); err == nil {
			_, _ = w.record.Write(append(line, '\n'))
		}
	}
	w.mu.Unlock()
	w.wake()
}

// SoulSide returns the producer-only handle.
func (w *Wire) SoulSide() *Producer {
	return &Producer{w: w}
}

// UISide returns the consumer-only handle. With merge enabled, runs of
// small streaming events of the same kind are coalesced into composites.
func (w *Wire) UISide(merge bool) *Consumer {
	return &Consumer{w: w, merge: merge}
}

// Producer is the sending half of a wire. Send is synchronous and never
// blocks. A producer may carry a wrapping transform (sub-agent tagging).
type Producer struct {
	w    *Wire
	wrap func(Event) Event
}

// Send enqueues one event.
func (p *Producer) Send(ev Event) {
	if p == nil || p.w == nil {
		return
	}
	if p.wrap != nil {
		ev = p.wrap(ev)
	}
	p.w.send(ev)
}

// ForSubagent derives a producer that re-emits events wrapped in
// SubagentEvent tagged with the delegating Task call id. Approval events
// pass through unwrapped so they surface at the root UI.
func (p *Producer) ForSubagent(taskToolCallID string) *Producer {
	parentWrap := p.wrap
	wrap := func(ev Event) Event {
		switch ev.(type) {
		case ApprovalRequested, ApprovalResolved:
			// approvals always resolve at the root
		default:
			ev = SubagentEvent{TaskToolCallID: taskToolCallID, Inner: ev}
		}
		if parentWrap != nil {
			ev = parentWrap(ev)
		}
		return ev
	}
	return &Producer{w: p.w, wrap: wrap}
}

// Consumer is the receiving half of a wire.
type Consumer struct {
	w       *Wire
	merge   bool
	pending []Event
}

// Receive returns the next event, blocking until one is available.
// Returns ErrClosed once the wire is closed and fully drained.
func (c *Consumer) Receive(ctx context.Context) (Event, error) {
	for {
		if len(c.pending) == 0 {
			c.w.mu.Lock()
			c.pending = append(c.pending, c.w.queue...)
			c.w.queue = c.w.queue[:0]
			closed := c.w.closed
			c.w.mu.Unlock()

			if len(c.pending) == 0 {
				if closed {
					return nil, ErrClosed
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-c.w.notify:
					continue
				}
			}
		}

		if !c.merge {
			ev := c.pending[0]
			c.pending = c.pending[1:]
			return ev, nil
		}

		ev, n := coalesce(c.pending)
		c.pending = c.pending[n:]
		return ev, nil
	}
}

// coalesce merges a leading run of small same-kind events into one
// composite and reports how many inputs it consumed.
func coalesce(evs []Event) (Event, int) {
	switch head := evs[0].(type) {
	case Content:
		t, ok := head.Part.(message.Text)
		if !ok {
			return head, 1
		}
		n := 1
		for n < len(evs) {
			next, ok := evs[n].(Content)
			if !ok {
				break
			}
			nt, ok := next.Part.(message.Text)
			if !ok {
				break
			}
			t.Text += nt.Text
			n++
		}
		return Content{Part: t}, n

	case ToolCallBegin:
		call := head.Call
		n := 1
		for n < len(evs) {
			next, ok := evs[n].(ToolCallDelta)
			if !ok || next.Part.ID != call.ID {
				break
			}
			call.Arguments += next.Part.ArgumentsDelta
			n++
		}
		return ToolCallBegin{Call: call}, n

	default:
		return head, 1
	}
}

// recordLine renders an event as a one-line JSON record.
func recordLine(ev Event) ([]byte, error) {
	env := struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: eventName(ev), Data: recordData(ev)}
	return json.Marshal(env)
}

func recordData(ev Event) any {
	switch v := ev.(type) {
	case Content:
		return map[string]any{"part": message.Parts{v.Part}}
	case SubagentEvent:
		return map[string]any{
			"task_tool_call_id": v.TaskToolCallID,
			"inner":             eventName(v.Inner),
			"data":              recordData(v.Inner),
		}
	default:
		return v
	}
}

func eventName(ev Event) string {
	switch ev.(type) {
	case TurnBegin:
		return "turn_begin"
	case StepBegin:
		return "step_begin"
	case StepInterrupted:
		return "step_interrupted"
	case CompactionBegin:
		return "compaction_begin"
	case CompactionEnd:
		return "compaction_end"
	case StatusUpdate:
		return "status_update"
	case Content:
		return "content"
	case ToolCallBegin:
		return "tool_call"
	case ToolCallDelta:
		return "tool_call_part"
	case ToolDone:
		return "tool_result"
	case SubagentEvent:
		return "subagent_event"
	case ApprovalRequested:
		return "approval_request"
	case ApprovalResolved:
		return "approval_request_resolved"
	default:
		return "unknown"
	}
}

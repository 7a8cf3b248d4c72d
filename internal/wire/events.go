package wire

import "github.com/yanmxa/kimi/internal/message"

// Event is a typed message flowing from the core to the UI.
type Event interface {
	wireEvent()
}

// TurnBegin marks the start of processing one user input.
type TurnBegin struct {
	UserInput string
}

// StepBegin marks the start of step N (1-based) within a turn.
type StepBegin struct {
	N int
}

// StepInterrupted signals that the current step was aborted by an error
// or a cancellation.
type StepInterrupted struct{}

// CompactionBegin signals that context compaction is starting.
type CompactionBegin struct{}

// CompactionEnd signals that context compaction finished.
type CompactionEnd struct{}

// StatusUpdate carries a cheap progress snapshot.
type StatusUpdate struct {
	TokenCount   uint64
	ContextUsage float32
	Note         string
}

// Content carries one streamed content part (text, thinking, media).
type Content struct {
	Part message.Part
}

// ToolCallBegin announces a tool call once its id and name are known.
type ToolCallBegin struct {
	Call message.ToolCall
}

// ToolCallDelta is a streaming fragment of a tool call's arguments.
type ToolCallDelta struct {
	Part message.ToolCallPart
}

// ToolDone carries a completed tool result. Emission order follows tool
// completion, not call order; the context file keeps call order.
type ToolDone struct {
	Result message.ToolResult
}

// SubagentEvent wraps an event from a sub-agent's wire so the UI can
// demux it under the delegating Task call.
type SubagentEvent struct {
	TaskToolCallID string
	Inner          Event
}

// ApprovalRequested surfaces a pending approval to the UI. The verdict
// travels back on the approval gate, not on the wire.
type ApprovalRequested struct {
	ID          string
	ToolCallID  string
	Sender      string
	Action      string
	Description string
	Display     *message.Display
}

// ApprovalResolved reports the verdict for a previously surfaced request.
type ApprovalResolved struct {
	ID      string
	Verdict string
}

func (TurnBegin) wireEvent()         {}
func (StepBegin) wireEvent()         {}
func (StepInterrupted) wireEvent()   {}
func (CompactionBegin) wireEvent()   {}
func (CompactionEnd) wireEvent()     {}
func (StatusUpdate) wireEvent()      {}
func (Content) wireEvent()           {}
func (ToolCallBegin) wireEvent()     {}
func (ToolCallDelta) wireEvent()     {}
func (ToolDone) wireEvent()          {}
func (SubagentEvent) wireEvent()     {}
func (ApprovalRequested) wireEvent() {}
func (ApprovalResolved) wireEvent()  {}

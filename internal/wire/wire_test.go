package wire

import (
	"context"
	"testing"
	"time"

	"github.com/yanmxa/kimi/internal/message"
)

func recvAll(t *testing.T, c *Consumer, n int) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := make([]Event, 0, n)
	for len(out) < n {
		ev, err := c.Receive(ctx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestSendReceiveOrder(t *testing.T) {
	w := New()
	p := w.SoulSide()
	c := w.UISide(false)

	p.Send(TurnBegin{UserInput: "hi"})
	p.Send(StepBegin{N: 1})
	p.Send(Content{Part: message.Text{Text: "hello"}})

	evs := recvAll(t, c, 3)
	if _, ok := evs[0].(TurnBegin); !ok {
		t.Errorf("event 0: %T", evs[0])
	}
	if sb, ok := evs[1].(StepBegin); !ok || sb.N != 1 {
		t.Errorf("event 1: %#v", evs[1])
	}
	if ct, ok := evs[2].(Content); !ok || ct.Part.(message.Text).Text != "hello" {
		t.Errorf("event 2: %#v", evs[2])
	}
}

func TestMergeTextRuns(t *testing.T) {
	w := New()
	p := w.SoulSide()
	c := w.UISide(true)

	p.Send(Content{Part: message.Text{Text: "he"}})
	p.Send(Content{Part: message.Text{Text: "ll"}})
	p.Send(Content{Part: message.Text{Text: "o"}})
	p.Send(StepBegin{N: 2})

	evs := recvAll(t, c, 2)
	ct, ok := evs[0].(Content)
	if !ok {
		t.Fatalf("event 0: %T", evs[0])
	}
	if got := ct.Part.(message.Text).Text; got != "hello" {
		t.Errorf("merged text = %q", got)
	}
	if _, ok := evs[1].(StepBegin); !ok {
		t.Errorf("event 1: %T", evs[1])
	}
}

func TestMergeToolCallWithDeltas(t *testing.T) {
	w := New()
	p := w.SoulSide()
	c := w.UISide(true)

	p.Send(ToolCallBegin{Call: message.ToolCall{ID: "c1", Name: "read_file"}})
	p.Send(ToolCallDelta{Part: message.ToolCallPart{ID: "c1", ArgumentsDelta: `{"path":`}})
	p.Send(ToolCallDelta{Part: message.ToolCallPart{ID: "c1", ArgumentsDelta: `"foo.txt"}`}})
	p.Send(StepInterrupted{})

	evs := recvAll(t, c, 2)
	tc, ok := evs[0].(ToolCallBegin)
	if !ok {
		t.Fatalf("event 0: %T", evs[0])
	}
	if tc.Call.Arguments != `{"path":"foo.txt"}` {
		t.Errorf("assembled arguments = %q", tc.Call.Arguments)
	}
}

// Merged streams carry the same logical content as unmerged ones.
func TestMergeInvariant(t *testing.T) {
	send := func(p *Producer) {
		p.Send(Content{Part: message.Text{Text: "a"}})
		p.Send(Content{Part: message.Text{Text: "b"}})
		p.Send(ToolCallBegin{Call: message.ToolCall{ID: "x", Name: "t"}})
		p.Send(ToolCallDelta{Part: message.ToolCallPart{ID: "x", ArgumentsDelta: "{}"}})
	}

	raw := New()
	send(raw.SoulSide())
	raw.Close()
	merged := New()
	send(merged.SoulSide())
	merged.Close()

	var rawText, mergedText, rawArgs, mergedArgs string
	drain := func(c *Consumer, text, args *string) {
		for {
			ev, err := c.Receive(context.Background())
			if err != nil {
				return
			}
			switch v := ev.(type) {
			case Content:
				*text += v.Part.(message.Text).Text
			case ToolCallBegin:
				*args += v.Call.Arguments
			case ToolCallDelta:
				*args += v.Part.ArgumentsDelta
			}
		}
	}
	drain(raw.UISide(false), &rawText, &rawArgs)
	drain(merged.UISide(true), &mergedText, &mergedArgs)

	if rawText != mergedText {
		t.Errorf("text differs: raw %q merged %q", rawText, mergedText)
	}
	if rawArgs != mergedArgs {
		t.Errorf("args differ: raw %q merged %q", rawArgs, mergedArgs)
	}
}

func TestSubagentWrapping(t *testing.T) {
	w := New()
	sub := w.SoulSide().ForSubagent("task_1")
	c := w.UISide(false)

	sub.Send(StepBegin{N: 1})
	sub.Send(ApprovalRequested{ID: "a1", Sender: "shell", Action: "exec"})

	evs := recvAll(t, c, 2)
	se, ok := evs[0].(SubagentEvent)
	if !ok {
		t.Fatalf("event 0: %T", evs[0])
	}
	if se.TaskToolCallID != "task_1" {
		t.Errorf("task id = %q", se.TaskToolCallID)
	}
	if _, ok := se.Inner.(StepBegin); !ok {
		t.Errorf("inner: %T", se.Inner)
	}
	if _, ok := evs[1].(ApprovalRequested); !ok {
		t.Errorf("approval was wrapped: %T", evs[1])
	}
}

func TestCloseDrains(t *testing.T) {
	w := New()
	p := w.SoulSide()
	p.Send(StepBegin{N: 1})
	w.Close()

	c := w.UISide(false)
	if _, err := c.Receive(context.Background()); err != nil {
		t.Fatalf("expected pending event before close error, got %v", err)
	}
	if _, err := c.Receive(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

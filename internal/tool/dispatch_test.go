package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yanmxa/kimi/internal/dmail"
	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/wire"
)

// stubTool is a scriptable tool for dispatcher tests.
type stubTool struct {
	name   string
	delay  time.Duration
	ret    message.ToolReturn
	err    error
	schema map[string]any
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }

func (s *stubTool) Schema() map[string]any {
	if s.schema != nil {
		return s.schema
	}
	return map[string]any{"type": "object"}
}

func (s *stubTool) Invoke(ctx context.Context, _ map[string]any, _ *Context) (message.ToolReturn, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return message.ToolReturn{}, ctx.Err()
		}
	}
	return s.ret, s.err
}

func baseContext() Context {
	return Context{Wire: wire.New().SoulSide(), Denwa: dmail.New()}
}

func TestDispatchCallOrder(t *testing.T) {
	// slow completes last but is first in call order
	d, err := NewDispatcher([]Tool{
		&stubTool{name: "slow", delay: 50 * time.Millisecond, ret: message.Ok("slow done")},
		&stubTool{name: "fast", ret: message.Ok("fast done")},
	})
	if err != nil {
		t.Fatal(err)
	}

	results := d.Dispatch(context.Background(), []message.ToolCall{
		{ID: "1", Name: "slow", Arguments: "{}"},
		{ID: "2", Name: "fast", Arguments: "{}"},
	}, baseContext())

	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].ToolCallID != "1" || results[0].Return.Output != "slow done" {
		t.Errorf("result 0 = %+v", results[0])
	}
	if results[1].ToolCallID != "2" || results[1].Return.Output != "fast done" {
		t.Errorf("result 1 = %+v", results[1])
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d, err := NewDispatcher(nil)
	if err != nil {
		t.Fatal(err)
	}
	results := d.Dispatch(context.Background(), []message.ToolCall{
		{ID: "1", Name: "nope", Arguments: "{}"},
	}, baseContext())
	if results[0].Return.Kind != message.ReturnError {
		t.Errorf("kind = %s", results[0].Return.Kind)
	}
}

func TestDispatchInvalidArguments(t *testing.T) {
	d, err := NewDispatcher([]Tool{&stubTool{
		name: "strict",
		ret:  message.Ok("ok"),
		schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}

	cases := []string{`{"wrong": 1}`, `not json`, `{"path": 42}`}
	for _, args := range cases {
		results := d.Dispatch(context.Background(), []message.ToolCall{
			{ID: "1", Name: "strict", Arguments: args},
		}, baseContext())
		if results[0].Return.Kind != message.ReturnError {
			t.Errorf("args %q: kind = %s", args, results[0].Return.Kind)
		}
	}

	// valid arguments pass
	results := d.Dispatch(context.Background(), []message.ToolCall{
		{ID: "1", Name: "strict", Arguments: `{"path": "x"}`},
	}, baseContext())
	if results[0].Return.Kind != message.ReturnOk {
		t.Errorf("valid args: %+v", results[0].Return)
	}
}

func TestDispatchRejection(t *testing.T) {
	d, err := NewDispatcher([]Tool{&stubTool{name: "guarded", err: ErrRejected}})
	if err != nil {
		t.Fatal(err)
	}
	results := d.Dispatch(context.Background(), []message.ToolCall{
		{ID: "1", Name: "guarded", Arguments: "{}"},
	}, baseContext())
	if results[0].Return.Kind != message.ReturnRejected {
		t.Errorf("kind = %s", results[0].Return.Kind)
	}
}

func TestDispatchErrorIsInBand(t *testing.T) {
	d, err := NewDispatcher([]Tool{&stubTool{name: "broken", err: errors.New("disk on fire")}})
	if err != nil {
		t.Fatal(err)
	}
	results := d.Dispatch(context.Background(), []message.ToolCall{
		{ID: "1", Name: "broken", Arguments: "{}"},
	}, baseContext())
	ret := results[0].Return
	if ret.Kind != message.ReturnError {
		t.Fatalf("kind = %s", ret.Kind)
	}
	if ret.Details != "disk on fire" {
		t.Errorf("details = %q", ret.Details)
	}
}

func TestSendDMailValidation(t *testing.T) {
	denwa := dmail.New()
	tc := &Context{Denwa: denwa, NCheckpoints: func() uint32 { return 4 }}
	tool := &SendDMail{}

	// out of range
	ret, err := tool.Invoke(context.Background(), map[string]any{
		"message": "m", "checkpoint_id": float64(4),
	}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if ret.Kind != message.ReturnError {
		t.Errorf("out-of-range kind = %s", ret.Kind)
	}
	if denwa.Take() != nil {
		t.Error("invalid D-Mail must not be buffered")
	}

	// valid
	ret, err = tool.Invoke(context.Background(), map[string]any{
		"message": "file foo.txt defines X, Y, Z", "checkpoint_id": float64(3),
	}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if ret.Kind != message.ReturnOk {
		t.Fatalf("valid kind = %s (%+v)", ret.Kind, ret)
	}

	// a second one in the same step fails
	ret, err = tool.Invoke(context.Background(), map[string]any{
		"message": "again", "checkpoint_id": float64(1),
	}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if ret.Kind != message.ReturnError {
		t.Errorf("double-send kind = %s", ret.Kind)
	}

	m := denwa.Take()
	if m == nil || m.CheckpointID != 3 {
		t.Errorf("buffered D-Mail = %+v", m)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	tools, err := r.Resolve([]string{SendDMailID, TaskID, CreateSubagentID}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 3 {
		t.Fatalf("tools = %d", len(tools))
	}

	if _, err := r.Resolve([]string{"kimi.tools.nope:Missing"}, Deps{}); err == nil {
		t.Error("expected error for unknown identifier")
	}
}

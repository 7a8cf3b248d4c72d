package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanmxa/kimi/internal/log"
	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/provider"
	"github.com/yanmxa/kimi/internal/wire"
)

// Dispatcher executes the tool calls of one step against an agent's
// tool set. Calls run concurrently; results are returned in call order.
type Dispatcher struct {
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
}

// NewDispatcher compiles the tool set's argument schemas up front so a
// malformed schema fails at agent load, not mid-turn.
func NewDispatcher(tools []Tool) (*Dispatcher, error) {
	d := &Dispatcher{
		tools:   map[string]Tool{},
		schemas: map[string]*jsonschema.Schema{},
	}
	for _, t := range tools {
		name := t.Name()
		if _, dup := d.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		schema, err := compileSchema(name, t.Schema())
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		d.tools[name] = t
		d.order = append(d.order, name)
		d.schemas[name] = schema
	}
	return d, nil
}

func compileSchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Schemas renders the tool set for the chat provider, in registration
// order.
func (d *Dispatcher) Schemas() []provider.ToolSchema {
	out := make([]provider.ToolSchema, 0, len(d.order))
	for _, name := range d.order {
		t := d.tools[name]
		out = append(out, provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

// Has reports whether the set contains the named tool.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.tools[name]
	return ok
}

// Dispatch runs all calls concurrently and returns their results in
// call order (the order the model emitted them), regardless of
// completion order. Each result is also emitted on the wire as it
// completes.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []message.ToolCall, base Context) []message.ToolResult {
	results := make([]message.ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			ret := d.dispatchOne(gctx, call, base)
			results[i] = message.ToolResult{ToolCallID: call.ID, ToolName: call.Name, Return: ret}
			base.Wire.Send(wire.ToolDone{Result: results[i]})
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// dispatchOne executes a single call: lookup, argument validation,
// invocation, and uniform error translation.
func (d *Dispatcher) dispatchOne(ctx context.Context, call message.ToolCall, base Context) message.ToolReturn {
	t, ok := d.tools[call.Name]
	if !ok {
		return message.Error(fmt.Sprintf("Unknown tool: %s", call.Name), "")
	}

	args, err := d.parseArgs(call)
	if err != nil {
		return message.Error("Invalid arguments", err.Error())
	}

	tc := base
	tc.CallID = call.ID

	start := time.Now()
	ret, err := t.Invoke(ctx, args, &tc)
	log.Logger().Debug("tool executed",
		zap.String("tool", call.Name),
		zap.String("call_id", call.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("err", err != nil))

	switch {
	case errors.Is(err, ErrRejected):
		return message.Rejected()
	case err != nil:
		return message.Error(fmt.Sprintf("%s failed", call.Name), err.Error())
	default:
		return ret
	}
}

// parseArgs decodes and schema-validates a call's JSON arguments.
func (d *Dispatcher) parseArgs(call message.ToolCall) (map[string]any, error) {
	raw := call.Arguments
	if raw == "" {
		raw = "{}"
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	if err := d.schemas[call.Name].Validate(value); err != nil {
		return nil, err
	}

	args, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be a JSON object")
	}
	return args, nil
}

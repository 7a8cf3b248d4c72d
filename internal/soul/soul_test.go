package soul

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yanmxa/kimi/internal/agent"
	"github.com/yanmxa/kimi/internal/approval"
	"github.com/yanmxa/kimi/internal/client"
	"github.com/yanmxa/kimi/internal/config"
	"github.com/yanmxa/kimi/internal/history"
	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/provider"
	"github.com/yanmxa/kimi/internal/runtime"
	"github.com/yanmxa/kimi/internal/tool"
	"github.com/yanmxa/kimi/internal/wire"
)

// fixture bundles a Soul wired to a fake provider for tests.
type fixture struct {
	soul *Soul
	wire *wire.Wire
	hist *history.Context
	cfg  *config.Config
	gate *approval.Gate
}

type fixtureOpt func(*fixtureCfg)

type fixtureCfg struct {
	tools     []tool.Tool
	subagents []*agent.Agent
	yolo      bool
	cfg       *config.Config
}

func withTools(tools ...tool.Tool) fixtureOpt {
	return func(fc *fixtureCfg) { fc.tools = append(fc.tools, tools...) }
}

func withSubagents(agents ...*agent.Agent) fixtureOpt {
	return func(fc *fixtureCfg) { fc.subagents = agents }
}

func withPrompting() fixtureOpt {
	return func(fc *fixtureCfg) { fc.yolo = false }
}

func withConfig(cfg *config.Config) fixtureOpt {
	return func(fc *fixtureCfg) { fc.cfg = cfg }
}

func newFixture(t *testing.T, fake *provider.Fake, opts ...fixtureOpt) *fixture {
	t.Helper()

	fc := &fixtureCfg{yolo: true, cfg: config.Default()}
	for _, opt := range opts {
		opt(fc)
	}

	w := wire.New()
	gate := approval.NewGate(fc.yolo, nil, w.SoulSide())
	llm := &client.Client{Provider: fake, Model: "fake-model"}

	rt := runtime.New(fc.cfg, llm, nil, nil, gate, nil)
	rt.Registry = tool.NewRegistry()

	hist, err := history.Open(filepath.Join(t.TempDir(), "context.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	a := &agent.Agent{
		Name:           "kimi",
		SystemPrompt:   "you are a test agent",
		Tools:          fc.tools,
		FixedSubagents: fc.subagents,
	}
	s, err := New(a, rt, hist, w.SoulSide())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{soul: s, wire: w, hist: hist, cfg: fc.cfg, gate: gate}
}

// drain collects all wire events emitted so far.
func (f *fixture) drain(t *testing.T) []wire.Event {
	t.Helper()
	f.wire.Close()
	c := f.wire.UISide(false)
	var evs []wire.Event
	for {
		ev, err := c.Receive(context.Background())
		if err != nil {
			return evs
		}
		evs = append(evs, ev)
	}
}

func countStepBegins(evs []wire.Event) int {
	n := 0
	for _, ev := range evs {
		if _, ok := ev.(wire.StepBegin); ok {
			n++
		}
	}
	return n
}

func roles(msgs []message.Message) []message.Role {
	out := make([]message.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

// S1: simple text turn.
func TestSimpleTextTurn(t *testing.T) {
	fake := &provider.Fake{
		Finals: []provider.Final{{
			Message:    message.Assistant(message.Text{Text: "hello"}),
			TokenCount: 12,
			StopReason: "end_turn",
		}},
		Chunks: map[int][]provider.StreamChunk{
			1: {{Type: provider.ChunkContent, Part: message.Text{Text: "hello"}}},
		},
	}
	f := newFixture(t, fake)

	if err := f.soul.Run(context.Background(), Input{Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	h := f.hist.History()
	if len(h) != 2 || h[0].Text() != "hi" || h[1].Text() != "hello" {
		t.Fatalf("history = %+v", h)
	}
	if f.hist.TokenCount() != 12 {
		t.Errorf("token count = %d", f.hist.TokenCount())
	}

	evs := f.drain(t)
	if countStepBegins(evs) != 1 {
		t.Errorf("step begins = %d", countStepBegins(evs))
	}
	var sawText bool
	for _, ev := range evs {
		if c, ok := ev.(wire.Content); ok {
			if txt, ok := c.Part.(message.Text); ok && txt.Text == "hello" {
				sawText = true
			}
		}
	}
	if !sawText {
		t.Error("streamed text never reached the wire")
	}
}

// echoTool returns a fixed payload.
type echoTool struct {
	name    string
	payload string
}

func (e *echoTool) Name() string            { return e.name }
func (e *echoTool) Description() string     { return "test tool" }
func (e *echoTool) Schema() map[string]any  { return map[string]any{"type": "object"} }
func (e *echoTool) Invoke(context.Context, map[string]any, *tool.Context) (message.ToolReturn, error) {
	return message.Ok(e.payload), nil
}

// S2: single tool round-trip over two steps.
func TestToolRoundTrip(t *testing.T) {
	fake := &provider.Fake{
		Finals: []provider.Final{
			{
				Message: message.Assistant(
					message.Text{Text: "reading"},
					message.ToolCall{ID: "c1", Name: "read_file", Arguments: `{"path":"foo.txt"}`},
				),
				TokenCount: 20,
			},
			{
				Message:    message.Assistant(message.Text{Text: "the file says hi"}),
				TokenCount: 30,
			},
		},
	}
	f := newFixture(t, fake, withTools(&echoTool{name: "read_file", payload: "<contents>"}))

	if err := f.soul.Run(context.Background(), Input{Text: "read foo.txt"}); err != nil {
		t.Fatal(err)
	}

	h := f.hist.History()
	want := []message.Role{message.RoleUser, message.RoleAssistant, message.RoleTool, message.RoleAssistant}
	got := roles(h)
	if len(got) != len(want) {
		t.Fatalf("roles = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roles = %v, want %v", got, want)
		}
	}
	if h[2].ToolCallID != "c1" || h[2].Return.Output != "<contents>" {
		t.Errorf("tool message = %+v", h[2])
	}

	// one checkpoint before the turn's user message, one per step
	if f.hist.NCheckpoints() != 3 {
		t.Errorf("checkpoints = %d", f.hist.NCheckpoints())
	}
	if countStepBegins(f.drain(t)) != 2 {
		t.Error("expected two steps")
	}
}

// Tool results append in call order even when completion order differs.
func TestToolResultsInCallOrder(t *testing.T) {
	fake := &provider.Fake{
		Finals: []provider.Final{
			{
				Message: message.Assistant(
					message.ToolCall{ID: "slow", Name: "slow", Arguments: "{}"},
					message.ToolCall{ID: "fast", Name: "fast", Arguments: "{}"},
				),
			},
			{Message: message.Assistant(message.Text{Text: "done"})},
		},
	}
	f := newFixture(t, fake, withTools(
		&sleepTool{name: "slow", payload: "slow out"},
		&echoTool{name: "fast", payload: "fast out"},
	))

	if err := f.soul.Run(context.Background(), Input{Text: "go"}); err != nil {
		t.Fatal(err)
	}

	h := f.hist.History()
	if h[2].ToolCallID != "slow" || h[3].ToolCallID != "fast" {
		t.Errorf("tool order = %s, %s", h[2].ToolCallID, h[3].ToolCallID)
	}
}

// sleepTool completes after a short delay.
type sleepTool struct {
	name    string
	payload string
}

func (s *sleepTool) Name() string           { return s.name }
func (s *sleepTool) Description() string    { return "slow test tool" }
func (s *sleepTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (s *sleepTool) Invoke(ctx context.Context, _ map[string]any, _ *tool.Context) (message.ToolReturn, error) {
	select {
	case <-time.After(30 * time.Millisecond):
	case <-ctx.Done():
		return message.ToolReturn{}, ctx.Err()
	}
	return message.Ok(s.payload), nil
}

// approvalTool requests approval and rejects itself on denial.
type approvalTool struct{}

func (a *approvalTool) Name() string           { return "shell" }
func (a *approvalTool) Description() string    { return "guarded" }
func (a *approvalTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (a *approvalTool) Invoke(ctx context.Context, _ map[string]any, tc *tool.Context) (message.ToolReturn, error) {
	v, err := tc.Approval.Request(ctx, tc.CallID, a.Name(), "exec", "run something", nil)
	if err != nil {
		return message.ToolReturn{}, err
	}
	if v != approval.Approve {
		return message.ToolReturn{}, tool.ErrRejected
	}
	return message.Ok("ran"), nil
}

// S3: approval rejection ends the turn.
func TestApprovalRejectionEndsTurn(t *testing.T) {
	fake := &provider.Fake{
		Finals: []provider.Final{
			{Message: message.Assistant(message.ToolCall{ID: "c1", Name: "shell", Arguments: "{}"})},
			{Message: message.Assistant(message.Text{Text: "should never be requested"})},
		},
	}
	f := newFixture(t, fake, withTools(&approvalTool{}), withPrompting())

	go func() {
		req := <-f.gate.Requests()
		req.Respond(approval.Reject)
	}()

	if err := f.soul.Run(context.Background(), Input{Text: "run it"}); err != nil {
		t.Fatal(err)
	}

	h := f.hist.History()
	last := h[len(h)-1]
	if last.Role != message.RoleTool || last.Return.Kind != message.ReturnRejected {
		t.Fatalf("last message = %+v", last)
	}
	if len(fake.Requests) != 1 {
		t.Errorf("provider calls = %d, want 1", len(fake.Requests))
	}
}

// S4: D-Mail fold rewinds the context.
func TestDMailFold(t *testing.T) {
	bigOutput := strings.Repeat("x", 4096)
	fake := &provider.Fake{
		Finals: []provider.Final{
			{Message: message.Assistant(message.ToolCall{ID: "c1", Name: "read_file", Arguments: "{}"})},
			{Message: message.Assistant(message.ToolCall{
				ID: "c2", Name: "SendDMail",
				Arguments: `{"message":"file foo.txt defines X, Y, Z","checkpoint_id":1}`,
			})},
			{Message: message.Assistant(message.Text{Text: "continuing with folded context"})},
		},
	}
	reg := tool.NewRegistry()
	tools, err := reg.Resolve([]string{tool.SendDMailID}, tool.Deps{})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, fake, withTools(append(tools, &echoTool{name: "read_file", payload: bigOutput})...))

	if err := f.soul.Run(context.Background(), Input{Text: "study foo.txt"}); err != nil {
		t.Fatal(err)
	}

	h := f.hist.History()
	// after the fold: original user message, D-Mail message, final answer
	if len(h) != 3 {
		t.Fatalf("history (%d) = %+v", len(h), roles(h))
	}
	if h[0].Text() != "study foo.txt" {
		t.Errorf("message 0 = %q", h[0].Text())
	}
	if h[1].Role != message.RoleUser ||
		!strings.Contains(h[1].Text(), "D-Mail from your future self") ||
		!strings.Contains(h[1].Text(), "file foo.txt defines X, Y, Z") {
		t.Errorf("message 1 = %q", h[1].Text())
	}
	if strings.Contains(h[1].Text()+h[0].Text(), bigOutput) {
		t.Error("bulky tool output survived the fold")
	}
	if h[2].Text() != "continuing with folded context" {
		t.Errorf("message 2 = %q", h[2].Text())
	}
}

// A rejection in the same step discards the pending D-Mail.
type rejectTool struct{}

func (r *rejectTool) Name() string           { return "guarded" }
func (r *rejectTool) Description() string    { return "always rejected" }
func (r *rejectTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (r *rejectTool) Invoke(context.Context, map[string]any, *tool.Context) (message.ToolReturn, error) {
	return message.ToolReturn{}, tool.ErrRejected
}

func TestRejectionDiscardsDMail(t *testing.T) {
	fake := &provider.Fake{
		Finals: []provider.Final{
			{Message: message.Assistant(
				message.ToolCall{ID: "c1", Name: "guarded", Arguments: "{}"},
				message.ToolCall{ID: "c2", Name: "SendDMail", Arguments: `{"message":"m","checkpoint_id":0}`},
			)},
		},
	}
	reg := tool.NewRegistry()
	tools, err := reg.Resolve([]string{tool.SendDMailID}, tool.Deps{})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, fake, withTools(append(tools, &rejectTool{})...))

	if err := f.soul.Run(context.Background(), Input{Text: "go"}); err != nil {
		t.Fatal(err)
	}

	// no rewind happened: the user message is still in place and both
	// tool results follow the assistant message
	h := f.hist.History()
	if h[0].Text() != "go" {
		t.Errorf("rewind happened: %+v", roles(h))
	}
	if len(fake.Requests) != 1 {
		t.Errorf("provider calls = %d, want 1 (turn ends on rejection)", len(fake.Requests))
	}
}

// S5: compaction trigger before a step.
func TestCompactionTrigger(t *testing.T) {
	cfg := config.Default()
	fake := &provider.Fake{
		Finals: []provider.Final{
			// turn 1 pushes usage past the threshold
			{Message: message.Assistant(message.Text{Text: "big answer"}), TokenCount: 190_000},
			// compaction summary call
			{Message: message.Assistant(message.Text{Text: "<summary>it was long</summary>"})},
			// turn 2's real step
			{Message: message.Assistant(message.Text{Text: "fresh answer"}), TokenCount: 900},
		},
	}
	f := newFixture(t, fake, withConfig(cfg))

	if err := f.soul.Run(context.Background(), Input{Text: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := f.soul.Run(context.Background(), Input{Text: "second"}); err != nil {
		t.Fatal(err)
	}

	evs := f.drain(t)
	var begin, end bool
	for _, ev := range evs {
		switch ev.(type) {
		case wire.CompactionBegin:
			begin = true
		case wire.CompactionEnd:
			end = true
		}
	}
	if !begin || !end {
		t.Error("compaction events missing")
	}

	h := f.hist.History()
	// summary preamble first, then the preserved tail verbatim, then
	// turn 2's exchange
	if !strings.Contains(h[0].Text(), "<summary>it was long</summary>") {
		t.Errorf("message 0 = %q", h[0].Text())
	}
	texts := make([]string, len(h))
	for i, m := range h {
		texts[i] = m.Text()
	}
	joined := strings.Join(texts, "|")
	for _, want := range []string{"big answer", "second", "fresh answer"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %q", want, joined)
		}
	}

	// the compaction call used the compaction system prompt
	if len(fake.Requests) != 3 {
		t.Fatalf("provider calls = %d", len(fake.Requests))
	}
	if !strings.Contains(fake.Requests[1].SystemPrompt, "compact") {
		t.Errorf("compaction system prompt = %q", fake.Requests[1].SystemPrompt)
	}
	if len(fake.Requests[1].Tools) != 0 {
		t.Error("compaction call must carry an empty tool set")
	}
}

// Compaction with nothing to compact is a no-op but still emits events.
func TestCompactionNoOp(t *testing.T) {
	f := newFixture(t, &provider.Fake{})
	if err := f.soul.compact(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	evs := f.drain(t)
	if len(evs) != 2 {
		t.Fatalf("events = %d", len(evs))
	}
	if _, ok := evs[0].(wire.CompactionBegin); !ok {
		t.Errorf("event 0: %T", evs[0])
	}
	if _, ok := evs[1].(wire.CompactionEnd); !ok {
		t.Errorf("event 1: %T", evs[1])
	}
}

// S6: sub-agent delegation via the Task tool.
func TestSubagentDelegation(t *testing.T) {
	fake := &provider.Fake{
		Finals: []provider.Final{
			// parent step 1: delegate
			{Message: message.Assistant(message.ToolCall{
				ID: "task1", Name: "Task",
				Arguments: `{"subagent_name":"coder","prompt":"refactor module"}`,
			})},
			// sub-agent's only step
			{Message: message.Assistant(message.Text{Text: "refactoring finished"})},
			// parent step 2: final answer
			{Message: message.Assistant(message.Text{Text: "delegated and done"})},
		},
	}
	reg := tool.NewRegistry()
	tools, err := reg.Resolve([]string{tool.TaskID}, tool.Deps{})
	if err != nil {
		t.Fatal(err)
	}
	sub := &agent.Agent{Name: "coder", SystemPrompt: "you refactor code"}
	f := newFixture(t, fake, withTools(tools...), withSubagents(sub))

	if err := f.soul.Run(context.Background(), Input{Text: "refactor"}); err != nil {
		t.Fatal(err)
	}

	h := f.hist.History()
	var taskResult *message.Message
	for i := range h {
		if h[i].Role == message.RoleTool && h[i].ToolCallID == "task1" {
			taskResult = &h[i]
		}
	}
	if taskResult == nil {
		t.Fatal("no Task result in parent context")
	}
	if taskResult.Return.Kind != message.ReturnOk || taskResult.Return.Output != "refactoring finished" {
		t.Errorf("task result = %+v", taskResult.Return)
	}

	// the sub-agent ran against its own context file in the same dir
	subFile := filepath.Join(filepath.Dir(f.hist.Path()), "subagent_1.jsonl")
	if _, err := os.Stat(subFile); err != nil {
		t.Errorf("sub-agent context file: %v", err)
	}

	// the parent wire carries wrapped sub-agent events
	sawWrapped := false
	for _, ev := range f.drain(t) {
		if se, ok := ev.(wire.SubagentEvent); ok && se.TaskToolCallID == "task1" {
			sawWrapped = true
		}
	}
	if !sawWrapped {
		t.Error("no SubagentEvent on the parent wire")
	}

	// the sub-agent used the sub-agent's system prompt for its call
	if fake.Requests[1].SystemPrompt != "you refactor code" {
		t.Errorf("sub-agent system prompt = %q", fake.Requests[1].SystemPrompt)
	}
}

func TestUnknownSubagent(t *testing.T) {
	fake := &provider.Fake{
		Finals: []provider.Final{
			{Message: message.Assistant(message.ToolCall{
				ID: "task1", Name: "Task",
				Arguments: `{"subagent_name":"ghost","prompt":"boo"}`,
			})},
			{Message: message.Assistant(message.Text{Text: "recovered"})},
		},
	}
	reg := tool.NewRegistry()
	tools, err := reg.Resolve([]string{tool.TaskID}, tool.Deps{})
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, fake, withTools(tools...))

	// the sub-agent error is in-band; the parent turn survives
	if err := f.soul.Run(context.Background(), Input{Text: "go"}); err != nil {
		t.Fatal(err)
	}
	h := f.hist.History()
	if h[2].Return.Kind != message.ReturnError {
		t.Errorf("task result = %+v", h[2].Return)
	}
	if h[len(h)-1].Text() != "recovered" {
		t.Errorf("final = %q", h[len(h)-1].Text())
	}
}

func TestMaxStepsZero(t *testing.T) {
	cfg := config.Default()
	cfg.MaxStepsPerTurn = 0
	f := newFixture(t, &provider.Fake{}, withConfig(cfg))

	err := f.soul.Run(context.Background(), Input{Text: "hi"})
	if !errors.Is(err, ErrMaxSteps) {
		t.Fatalf("err = %v", err)
	}
}

func TestZeroRetriesTerminalOnTransientError(t *testing.T) {
	cfg := config.Default()
	cfg.MaxRetriesPerStep = 0
	fake := &provider.Fake{
		ErrAt:  1,
		ErrVal: &provider.HTTPError{Status: 500, Msg: "boom"},
		Finals: []provider.Final{{Message: message.Assistant(message.Text{Text: "never"})}},
	}
	f := newFixture(t, fake, withConfig(cfg))

	err := f.soul.Run(context.Background(), Input{Text: "hi"})
	var httpErr *provider.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestTransientErrorRetried(t *testing.T) {
	fake := &provider.Fake{
		ErrAt:  1,
		ErrVal: &provider.HTTPError{Status: 503, Msg: "overloaded"},
		Finals: []provider.Final{{Message: message.Assistant(message.Text{Text: "eventually"})}},
	}
	f := newFixture(t, fake)

	if err := f.soul.Run(context.Background(), Input{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	h := f.hist.History()
	if h[len(h)-1].Text() != "eventually" {
		t.Errorf("final = %q", h[len(h)-1].Text())
	}
}

func TestConcurrentRunRejected(t *testing.T) {
	f := newFixture(t, &provider.Fake{})
	f.soul.running.Store(true)
	if err := f.soul.Run(context.Background(), Input{Text: "hi"}); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnsupportedInputCapability(t *testing.T) {
	fake := &provider.Fake{Caps: []provider.Capability{}} // text only
	f := newFixture(t, fake)

	err := f.soul.Run(context.Background(), Input{
		Text:  "look at this",
		Parts: []message.Part{message.ImageURL{URL: "https://x/y.png"}},
	})
	var nse *client.NotSupportedError
	if !errors.As(err, &nse) {
		t.Fatalf("err = %v", err)
	}
	if len(nse.Missing) != 1 || nse.Missing[0] != provider.CapImageIn {
		t.Errorf("missing = %v", nse.Missing)
	}
}

func TestSetThinkingCapability(t *testing.T) {
	f := newFixture(t, &provider.Fake{Caps: []provider.Capability{}})
	if err := f.soul.SetThinking(true); err == nil {
		t.Error("expected capability error")
	}

	f2 := newFixture(t, &provider.Fake{})
	if err := f2.soul.SetThinking(true); err != nil {
		t.Fatal(err)
	}
	if !f2.soul.Thinking() {
		t.Error("thinking not set")
	}
}

func TestUnknownSlashCommand(t *testing.T) {
	fake := &provider.Fake{}
	f := newFixture(t, fake)

	if err := f.soul.Run(context.Background(), Input{Text: "/bogus"}); err != nil {
		t.Fatal(err)
	}
	if len(fake.Requests) != 0 {
		t.Error("slash command must not reach the provider")
	}
	var sawError bool
	for _, ev := range f.drain(t) {
		if c, ok := ev.(wire.Content); ok {
			if txt, ok := c.Part.(message.Text); ok && strings.Contains(txt.Text, "Unknown command") {
				sawError = true
			}
		}
	}
	if !sawError {
		t.Error("no error line emitted")
	}
}

func TestClearCommand(t *testing.T) {
	fake := &provider.Fake{
		Finals: []provider.Final{{Message: message.Assistant(message.Text{Text: "hello"})}},
	}
	f := newFixture(t, fake)

	if err := f.soul.Run(context.Background(), Input{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := f.soul.Run(context.Background(), Input{Text: "/clear"}); err != nil {
		t.Fatal(err)
	}
	if len(f.hist.History()) != 0 || f.hist.NCheckpoints() != 0 {
		t.Errorf("context not cleared: %d msgs", len(f.hist.History()))
	}
}

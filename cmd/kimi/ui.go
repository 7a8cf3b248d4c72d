package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/wire"
)

var (
	faintStyle  = lipgloss.NewStyle().Faint(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	statusStyle = lipgloss.NewStyle().Faint(true).Italic(true)
)

// consoleUI renders the wire event stream to a plain terminal. Streamed
// assistant text is buffered and rendered as markdown when a step, a
// tool call, a compaction or an interruption begins, or when the turn
// ends.
type consoleUI struct {
	mu       sync.Mutex
	out      io.Writer
	text     strings.Builder
	renderer *glamour.TermRenderer
}

func newConsoleUI(out io.Writer) *consoleUI {
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	return &consoleUI{out: out, renderer: renderer}
}

// run consumes the merged event stream until the context ends.
func (u *consoleUI) run(ctx context.Context, c *wire.Consumer) {
	for {
		ev, err := c.Receive(ctx)
		if err != nil {
			return
		}
		u.render(ev, "")
	}
}

func (u *consoleUI) render(ev wire.Event, prefix string) {
	switch v := ev.(type) {
	case wire.TurnBegin:

	case wire.StepBegin:
		u.flush()

	case wire.StepInterrupted:
		u.flush()
		u.println(prefix + errStyle.Render("step interrupted"))

	case wire.CompactionBegin:
		u.flush()
		u.println(prefix + statusStyle.Render("compacting context..."))

	case wire.CompactionEnd:
		u.println(prefix + statusStyle.Render("context compacted"))

	case wire.StatusUpdate:
		if v.Note != "" {
			u.println(prefix + statusStyle.Render(v.Note))
		} else if v.ContextUsage > 0 {
			u.println(prefix + statusStyle.Render(fmt.Sprintf("context %.0f%%", v.ContextUsage*100)))
		}

	case wire.Content:
		switch p := v.Part.(type) {
		case message.Text:
			u.mu.Lock()
			u.text.WriteString(p.Text)
			u.mu.Unlock()
		case message.Think:
			// thinking stays off the transcript
		default:
		}

	case wire.ToolCallBegin:
		u.flush()
		u.println(prefix + toolStyle.Render("⏺ "+v.Call.Name+" ")+faintStyle.Render(truncate(v.Call.Arguments, 80)))

	case wire.ToolDone:
		line := renderResult(v.Result)
		if line != "" {
			u.println(prefix + "  " + line)
		}

	case wire.SubagentEvent:
		u.render(v.Inner, prefix+faintStyle.Render("│ "))

	case wire.ApprovalRequested, wire.ApprovalResolved:
		// handled by the approval loop on stdin
	}
}

func renderResult(r message.ToolResult) string {
	switch r.Return.Kind {
	case message.ReturnOk:
		out := firstLine(r.Return.Output)
		if out == "" {
			out = "ok"
		}
		return faintStyle.Render(truncate(out, 100))
	case message.ReturnRejected:
		return errStyle.Render("rejected by user")
	default:
		return errStyle.Render(truncate(r.Return.Message, 100))
	}
}

// flush renders buffered assistant text as markdown.
func (u *consoleUI) flush() {
	u.mu.Lock()
	text := u.text.String()
	u.text.Reset()
	u.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return
	}
	if u.renderer != nil {
		if rendered, err := u.renderer.Render(text); err == nil {
			fmt.Fprint(u.out, rendered)
			return
		}
	}
	fmt.Fprintln(u.out, text)
}

func (u *consoleUI) println(s string) {
	fmt.Fprintln(u.out, s)
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}

func truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "…")
}

package provider

import (
	"context"

	"github.com/yanmxa/kimi/internal/message"
)

// Fake is a test double that replays scripted finals. Each Step call
// pops the next entry; exhausted fakes return a plain end-turn message.
//
//	fake := &provider.Fake{Finals: []provider.Final{
//	    {Message: message.Assistant(message.Text{Text: "hello"}), TokenCount: 10},
//	}}
type Fake struct {
	// Finals is the response queue, consumed in order.
	Finals []Final

	// Chunks optionally holds per-call chunk prefixes streamed before
	// the final (indexed by call number).
	Chunks map[int][]StreamChunk

	// ErrAt injects an error on the Nth call (1-based); 0 disables.
	ErrAt  int
	ErrVal error

	// Caps overrides the advertised capabilities (default: all).
	Caps []Capability

	// Requests records every request received, in order.
	Requests []Request

	calls int
}

// Step replays the next scripted response.
func (f *Fake) Step(_ context.Context, req Request) <-chan StreamChunk {
	f.calls++
	call := f.calls
	f.Requests = append(f.Requests, req)

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)

		for _, c := range f.Chunks[call] {
			ch <- c
		}

		if f.ErrAt > 0 && call == f.ErrAt {
			ch <- StreamChunk{Type: ChunkError, Err: f.ErrVal}
			return
		}

		final := f.next()
		ch <- StreamChunk{Type: ChunkDone, Final: &final}
	}()
	return ch
}

func (f *Fake) next() Final {
	if len(f.Finals) == 0 {
		return Final{
			Message:    message.Assistant(message.Text{Text: "no more responses"}),
			StopReason: "end_turn",
		}
	}
	final := f.Finals[0]
	f.Finals = f.Finals[1:]
	if len(final.ToolCalls) == 0 {
		final.ToolCalls = final.Message.ToolCalls()
	}
	return final
}

// Capabilities returns the configured capability set (default: all).
func (f *Fake) Capabilities() []Capability {
	if f.Caps != nil {
		return f.Caps
	}
	return []Capability{CapImageIn, CapThinking, CapAudioIn, CapVideoIn}
}

// Name returns "fake".
func (f *Fake) Name() string { return "fake" }

var _ ChatProvider = (*Fake)(nil)

// Package approval provides the async request/response protocol between
// side-effectful tools and the UI. Tools block on Request; the UI pulls
// pending requests and answers each with a verdict. YOLO mode, session
// grants, and configured allow patterns short-circuit the round trip.
package approval

import (
	"context"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/yanmxa/kimi/internal/message"
	"github.com/yanmxa/kimi/internal/wire"
)

// Verdict is the UI's answer to an approval request.
type Verdict int

const (
	// Reject denies the action.
	Reject Verdict = iota
	// Approve allows the action once.
	Approve
	// ApproveForSession allows the action and grants it for the rest of
	// the session.
	ApproveForSession
)

// String returns the wire label of the verdict.
func (v Verdict) String() string {
	switch v {
	case Approve:
		return "approve"
	case ApproveForSession:
		return "approve_for_session"
	default:
		return "reject"
	}
}

// Request is one pending approval. The UI answers via Respond.
type Request struct {
	ID          string
	ToolCallID  string
	Sender      string
	Action      string
	Description string
	Display     *message.Display

	resp chan Verdict
	once sync.Once
}

// Respond delivers the verdict. Extra calls are ignored.
func (r *Request) Respond(v Verdict) {
	r.once.Do(func() { r.resp <- v })
}

// Gate owns the approval queue of one root Soul. Sub-agent runtimes
// share their parent's gate so approvals surface at the root UI.
type Gate struct {
	yolo     bool
	patterns []string

	mu      sync.Mutex
	granted map[string]bool
	closed  bool

	pending chan *Request
	wire    *wire.Producer
}

// NewGate creates a gate. allowPatterns are doublestar patterns matched
// against "<sender>:<action>"; matches auto-approve.
func NewGate(yolo bool, allowPatterns []string, w *wire.Producer) *Gate {
	return &Gate{
		yolo:     yolo,
		patterns: allowPatterns,
		granted:  map[string]bool{},
		pending:  make(chan *Request, 16),
		wire:     w,
	}
}

// Requests is the UI side: pending approvals in arrival order.
func (g *Gate) Requests() <-chan *Request {
	return g.pending
}

// grantKey qualifies the action by the requesting tool so two tools with
// the same action label do not share a session grant.
func grantKey(sender, action string) string {
	return sender + ":" + action
}

// Request blocks until the action is approved or rejected. Tools call
// this before performing side effects.
func (g *Gate) Request(ctx context.Context, toolCallID, sender, action, description string,
	display *message.Display) (Verdict, error) {
	if g.yolo {
		return Approve, nil
	}

	key := grantKey(sender, action)
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Reject, nil
	}
	if g.granted[key] {
		g.mu.Unlock()
		return Approve, nil
	}
	g.mu.Unlock()

	for _, pattern := range g.patterns {
		if ok, err := doublestar.Match(pattern, key); err == nil && ok {
			return Approve, nil
		}
	}

	req := &Request{
		ID:          uuid.NewString(),
		ToolCallID:  toolCallID,
		Sender:      sender,
		Action:      action,
		Description: description,
		Display:     display,
		resp:        make(chan Verdict, 1),
	}

	g.wire.Send(wire.ApprovalRequested{
		ID:          req.ID,
		ToolCallID:  req.ToolCallID,
		Sender:      req.Sender,
		Action:      req.Action,
		Description: req.Description,
		Display:     req.Display,
	})

	select {
	case g.pending <- req:
	case <-ctx.Done():
		return Reject, ctx.Err()
	}

	var verdict Verdict
	select {
	case verdict = <-req.resp:
	case <-ctx.Done():
		// turn cancelled: the request resolves as rejected
		req.Respond(Reject)
		verdict = Reject
	}

	if verdict == ApproveForSession {
		g.mu.Lock()
		g.granted[key] = true
		g.mu.Unlock()
		verdict = Approve
	}

	g.wire.Send(wire.ApprovalResolved{ID: req.ID, Verdict: verdict.String()})
	return verdict, nil
}

// Close rejects everything still pending and makes future requests fail
// fast. Called at turn cancellation.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	for {
		select {
		case req := <-g.pending:
			req.Respond(Reject)
		default:
			return
		}
	}
}

// Package dmail holds the single-slot buffer that carries a D-Mail from
// the tool that issued it to the step loop that applies it. The name
// follows the Steins;Gate device the mechanism is modeled after.
package dmail

import (
	"errors"
	"sync"
)

// DMail is a message to the agent's past self at a prior checkpoint.
type DMail struct {
	Message      string
	CheckpointID uint32
}

// ErrOccupied is returned when a second D-Mail is sent in one step.
var ErrOccupied = errors.New("a D-Mail is already pending for this step")

// DenwaRenji is the per-Soul D-Mail buffer (capacity one).
type DenwaRenji struct {
	mu   sync.Mutex
	slot *DMail
}

// New creates an empty buffer.
func New() *DenwaRenji {
	return &DenwaRenji{}
}

// Put stores a D-Mail; a second Put before Take fails.
func (d *DenwaRenji) Put(m DMail) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slot != nil {
		return ErrOccupied
	}
	d.slot = &m
	return nil
}

// Take removes and returns the pending D-Mail, or nil.
func (d *DenwaRenji) Take() *DMail {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.slot
	d.slot = nil
	return m
}

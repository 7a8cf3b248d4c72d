package session

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndLast(t *testing.T) {
	s := newTestStore(t)
	workDir := t.TempDir()

	sess, err := s.Create(workDir)
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID == "" {
		t.Fatal("empty session id")
	}
	if filepath.Base(sess.ContextFile) != "context.jsonl" {
		t.Errorf("context file = %s", sess.ContextFile)
	}

	last, err := s.Last(workDir)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.ID != sess.ID {
		t.Errorf("last = %+v, want id %s", last, sess.ID)
	}
}

func TestLastTracksMostRecentTouch(t *testing.T) {
	s := newTestStore(t)
	workDir := t.TempDir()

	first, err := s.Create(workDir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Create(workDir)
	if err != nil {
		t.Fatal(err)
	}

	// touching the first session makes it "last" again
	first.Title = "earlier one"
	if err := s.Touch(first); err != nil {
		t.Fatal(err)
	}

	last, err := s.Last(workDir)
	if err != nil {
		t.Fatal(err)
	}
	if last.ID != first.ID {
		t.Errorf("last = %s, want %s (not %s)", last.ID, first.ID, second.ID)
	}
	if last.Title != "earlier one" {
		t.Errorf("title = %q", last.Title)
	}
}

func TestWorkDirsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	dirA, dirB := t.TempDir(), t.TempDir()

	if _, err := s.Create(dirA); err != nil {
		t.Fatal(err)
	}

	last, err := s.Last(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Errorf("dirB should have no sessions, got %+v", last)
	}

	list, err := s.List(dirA)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("dirA sessions = %d", len(list))
	}
}

func TestSubagentContextFiles(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Create(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	p1, err := s.SubagentContextFile(sess)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p1) != "subagent_1.jsonl" {
		t.Errorf("first subagent file = %s", p1)
	}

	// once the file exists, the next allocation moves on
	if err := writeEmpty(p1); err != nil {
		t.Fatal(err)
	}
	p2, err := s.SubagentContextFile(sess)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p2) != "subagent_2.jsonl" {
		t.Errorf("second subagent file = %s", p2)
	}
}

func TestThinkingFlag(t *testing.T) {
	s := newTestStore(t)
	if s.Thinking() {
		t.Error("thinking should default off")
	}
	if err := s.SetThinking(true); err != nil {
		t.Fatal(err)
	}
	if !s.Thinking() {
		t.Error("thinking flag not persisted")
	}
}

func writeEmpty(path string) error {
	return os.WriteFile(path, nil, 0o644)
}

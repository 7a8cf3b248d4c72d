// Package session manages the durable identity of conversations: one
// session binds a work directory to a context file. Sessions are grouped
// by hashed work directory under the per-user state root:
//
//	<root>/sessions/<hash(work_dir)>/<session_uuid>/context.jsonl
//	<root>/metadata.json
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Session is the descriptor of one conversation. Its ID, WorkDir and
// ContextFile are fixed; Touch refreshes UpdatedAt and persists Title.
type Session struct {
	ID          string    `json:"id"`
	WorkDir     string    `json:"work_dir"`
	ContextFile string    `json:"context_file"`
	Title       string    `json:"title"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Dir returns the session's directory.
func (s *Session) Dir() string {
	return filepath.Dir(s.ContextFile)
}

// metadata is the on-disk work-dir table.
type metadata struct {
	WorkDirs map[string]*workDirEntry `json:"work_dirs"`
	Thinking bool                     `json:"thinking"`
}

type workDirEntry struct {
	Path          string                  `json:"path"`
	LastSessionID string                  `json:"last_session_id,omitempty"`
	Sessions      map[string]*sessionMeta `json:"sessions"`
}

type sessionMeta struct {
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages sessions under one state root.
type Store struct {
	root string
}

// NewStore opens (creating if needed) a session store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// hashWorkDir addresses a work directory by a short content hash so an
// arbitrary absolute path becomes a safe directory name.
func hashWorkDir(workDir string) string {
	sum := sha256.Sum256([]byte(workDir))
	return hex.EncodeToString(sum[:])[:16]
}

func canonical(workDir string) (string, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolve work dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// Create allocates a new session for the work directory.
func (s *Store) Create(workDir string) (*Session, error) {
	workDir, err := canonical(workDir)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir := filepath.Join(s.root, "sessions", hashWorkDir(workDir), id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	sess := &Session{
		ID:          id,
		WorkDir:     workDir,
		ContextFile: filepath.Join(dir, "context.jsonl"),
		UpdatedAt:   time.Now(),
	}
	if err := s.Touch(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Last returns the work directory's last session, or nil when none.
func (s *Store) Last(workDir string) (*Session, error) {
	workDir, err := canonical(workDir)
	if err != nil {
		return nil, err
	}

	meta, err := s.readMetadata()
	if err != nil {
		return nil, err
	}
	entry := meta.WorkDirs[hashWorkDir(workDir)]
	if entry == nil || entry.LastSessionID == "" {
		return nil, nil
	}
	sm := entry.Sessions[entry.LastSessionID]
	if sm == nil {
		return nil, nil
	}

	dir := filepath.Join(s.root, "sessions", hashWorkDir(workDir), entry.LastSessionID)
	return &Session{
		ID:          entry.LastSessionID,
		WorkDir:     workDir,
		ContextFile: filepath.Join(dir, "context.jsonl"),
		Title:       sm.Title,
		UpdatedAt:   sm.UpdatedAt,
	}, nil
}

// List returns the work directory's sessions, newest first.
func (s *Store) List(workDir string) ([]*Session, error) {
	workDir, err := canonical(workDir)
	if err != nil {
		return nil, err
	}

	meta, err := s.readMetadata()
	if err != nil {
		return nil, err
	}
	entry := meta.WorkDirs[hashWorkDir(workDir)]
	if entry == nil {
		return nil, nil
	}

	out := make([]*Session, 0, len(entry.Sessions))
	for id, sm := range entry.Sessions {
		dir := filepath.Join(s.root, "sessions", hashWorkDir(workDir), id)
		out = append(out, &Session{
			ID:          id,
			WorkDir:     workDir,
			ContextFile: filepath.Join(dir, "context.jsonl"),
			Title:       sm.Title,
			UpdatedAt:   sm.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Touch records the session in metadata.json and marks it as the work
// directory's last session. Called at the end of each successful turn.
func (s *Store) Touch(sess *Session) error {
	meta, err := s.readMetadata()
	if err != nil {
		return err
	}

	key := hashWorkDir(sess.WorkDir)
	entry := meta.WorkDirs[key]
	if entry == nil {
		entry = &workDirEntry{Path: sess.WorkDir, Sessions: map[string]*sessionMeta{}}
		meta.WorkDirs[key] = entry
	}
	sess.UpdatedAt = time.Now()
	entry.Sessions[sess.ID] = &sessionMeta{Title: sess.Title, UpdatedAt: sess.UpdatedAt}
	entry.LastSessionID = sess.ID

	return s.writeMetadata(meta)
}

// Thinking returns the persisted thinking flag.
func (s *Store) Thinking() bool {
	meta, err := s.readMetadata()
	if err != nil {
		return false
	}
	return meta.Thinking
}

// SetThinking persists the thinking flag.
func (s *Store) SetThinking(on bool) error {
	meta, err := s.readMetadata()
	if err != nil {
		return err
	}
	meta.Thinking = on
	return s.writeMetadata(meta)
}

// SubagentContextFile allocates a fresh context file for one sub-agent
// invocation inside the session directory, scanning for the lowest
// unused suffix.
func (s *Store) SubagentContextFile(sess *Session) (string, error) {
	for m := 1; ; m++ {
		candidate := filepath.Join(sess.Dir(), fmt.Sprintf("subagent_%d.jsonl", m))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("scan subagent contexts: %w", err)
		}
	}
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.root, "metadata.json")
}

func (s *Store) readMetadata() (*metadata, error) {
	meta := &metadata{WorkDirs: map[string]*workDirEntry{}}
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.WorkDirs == nil {
		meta.WorkDirs = map[string]*workDirEntry{}
	}
	return meta, nil
}

func (s *Store) writeMetadata(meta *metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tmp := s.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return os.Rename(tmp, s.metadataPath())
}

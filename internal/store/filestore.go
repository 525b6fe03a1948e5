package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func defaultNow() time.Time { return time.Now().UTC() }

// FileStore is the on-disk Store implementation: every entity is a
// UTF-8 markdown file with a YAML front-matter block under root
// (conventionally ".work").
type FileStore struct {
	root string
	now  NowFunc
}

// New opens a FileStore rooted at root. It does not create directories;
// call Init for that (mirrors the teacher's migrate-on-first-use split
// between "open a handle" and "apply schema").
func New(root string) *FileStore {
	return &FileStore{root: root, now: defaultNow}
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(root string, now NowFunc) *FileStore {
	return &FileStore{root: root, now: now}
}

// Init creates the full directory layout of spec.md §4.A beneath root.
func Init(root string) error {
	dirs := []string{
		"stages", "sessions", "signals", "handoffs", "memory",
		"learnings", filepath.Join("learnings", ".snapshots"), "crashes",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return fmt.Errorf("store: init %s: %w", d, err)
		}
	}
	return nil
}

func (s *FileStore) Root() string { return s.root }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

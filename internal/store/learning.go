package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/loomorch/loom/internal/loomerr"
)

func (s *FileStore) learningPath(cat LearningCategory) string {
	return s.path("learnings", string(cat)+".md")
}

func (s *FileStore) snapshotPath(sessionID string, cat LearningCategory) string {
	return s.path("learnings", ".snapshots", sessionID, string(cat)+".md")
}

// AppendLearning adds one entry to a cross-session knowledge file. The file
// is append-only: writers never rewrite prior content.
func (s *FileStore) AppendLearning(category LearningCategory, entry string) error {
	path := s.learningPath(category)
	lock := newFileLock(path)
	unlock, err := lock.acquire()
	if err != nil {
		return loomerr.IO("store.AppendLearning", "acquire lock", err)
	}
	defer unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return loomerr.IO("store.AppendLearning", "open "+path, err)
	}
	defer f.Close()

	if _, err := f.WriteString("\n- " + entry + "\n"); err != nil {
		return loomerr.IO("store.AppendLearning", "append", err)
	}
	return nil
}

// ReadLearnings returns the full content of one knowledge file, or "" if it
// has never been written.
func (s *FileStore) ReadLearnings(category LearningCategory) (string, error) {
	data, err := os.ReadFile(s.learningPath(category))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", loomerr.IO("store.ReadLearnings", "read", err)
	}
	return string(data), nil
}

// SnapshotLearnings copies every learning file into
// learnings/.snapshots/<session-id>/ before a session starts, so later
// tamper detection can tell whether the session edited the shared
// knowledge base out of band instead of through AppendLearning.
func (s *FileStore) SnapshotLearnings(sessionID string) error {
	for _, cat := range allLearningCategories {
		data, err := os.ReadFile(s.learningPath(cat))
		if err != nil {
			if os.IsNotExist(err) {
				data = nil
			} else {
				return loomerr.IO("store.SnapshotLearnings", "read "+string(cat), err)
			}
		}
		if err := atomicWrite(s.snapshotPath(sessionID, cat), data, 0o644); err != nil {
			return loomerr.IO("store.SnapshotLearnings", "write snapshot", err)
		}
	}
	return nil
}

// LearningsTampered reports whether any learning file's content differs
// from what was captured in the session's pre-session snapshot in a way
// that is not a pure append (i.e. the snapshot is not a prefix of the
// current content).
func (s *FileStore) LearningsTampered(sessionID string) (bool, error) {
	for _, cat := range allLearningCategories {
		before, err := os.ReadFile(s.snapshotPath(sessionID, cat))
		if err != nil {
			if os.IsNotExist(err) {
				continue // never snapshotted; nothing to compare
			}
			return false, loomerr.IO("store.LearningsTampered", "read snapshot", err)
		}
		after, err := os.ReadFile(s.learningPath(cat))
		if err != nil && !os.IsNotExist(err) {
			return false, loomerr.IO("store.LearningsTampered", "read current", err)
		}
		if !bytes.HasPrefix(after, before) {
			return true, nil
		}
	}
	return false, nil
}

var allLearningCategories = []LearningCategory{
	LearningMistakes, LearningHumanGuidance, LearningPatterns, LearningConventions,
}

// hashPrefix returns the first 16 hex characters of data's SHA-256 digest.
// The Signal Assembler computes its stable-prefix hash with its own copy.
func hashPrefix(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

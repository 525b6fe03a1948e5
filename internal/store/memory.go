package store

import (
	"os"

	"github.com/loomorch/loom/internal/loomerr"
)

func (s *FileStore) memoryPath(sessionID string) string {
	return s.path("memory", sessionID+".md")
}

// LoadMemory reads a session's running journal. A missing file is not an
// error: it returns a fresh, empty entry, since the journal is created
// lazily on first note.
func (s *FileStore) LoadMemory(sessionID string) (*MemoryEntry, error) {
	data, err := os.ReadFile(s.memoryPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return &MemoryEntry{SessionID: sessionID}, nil
		}
		return nil, loomerr.IO("store.LoadMemory", "read", err)
	}
	var entry MemoryEntry
	if _, err := parseDocument(data, &entry); err != nil {
		return nil, loomerr.IO("store.LoadMemory", "parse", err)
	}
	return &entry, nil
}

// SaveMemory writes the full journal for entry.SessionID.
func (s *FileStore) SaveMemory(entry *MemoryEntry) error {
	data, err := renderDocument(entry, "")
	if err != nil {
		return loomerr.IO("store.SaveMemory", "render", err)
	}
	if err := atomicWrite(s.memoryPath(entry.SessionID), data, 0o644); err != nil {
		return loomerr.IO("store.SaveMemory", "write", err)
	}
	return nil
}

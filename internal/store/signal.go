package store

import (
	"os"

	"github.com/loomorch/loom/internal/loomerr"
)

func (s *FileStore) signalPath(sessionID string) string {
	return s.path("signals", sessionID+".md")
}

// WriteSignal persists the rendered briefing text for a session and returns
// its on-disk path (passed to the Session Backend as signal_path).
func (s *FileStore) WriteSignal(sessionID, body string) (string, error) {
	path := s.signalPath(sessionID)
	if err := atomicWrite(path, []byte(body), 0o644); err != nil {
		return "", loomerr.IO("store.WriteSignal", "write "+path, err)
	}
	return path, nil
}

// ReadSignal returns a session's current signal text.
func (s *FileStore) ReadSignal(sessionID string) (string, error) {
	data, err := os.ReadFile(s.signalPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", loomerr.NotFound("store.ReadSignal", "signal "+sessionID)
		}
		return "", loomerr.IO("store.ReadSignal", "read", err)
	}
	return string(data), nil
}

// RemoveSignal deletes a session's signal file. Signals exist only while
// their session is active (§3.1); this is called once the session ends.
func (s *FileStore) RemoveSignal(sessionID string) error {
	if err := os.Remove(s.signalPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return loomerr.IO("store.RemoveSignal", "remove", err)
	}
	return nil
}

package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/loomorch/loom/internal/loomerr"
)

func (s *FileStore) sessionPath(id string) string {
	return s.path("sessions", id+".md")
}

// LoadSession reads and parses a single session document.
func (s *FileStore) LoadSession(id string) (*Session, error) {
	path := s.sessionPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, loomerr.NotFound("store.LoadSession", "session "+id)
		}
		return nil, loomerr.IO("store.LoadSession", "read "+path, err)
	}
	var session Session
	if _, err := parseDocument(data, &session); err != nil {
		return nil, loomerr.IO("store.LoadSession", "parse "+path, err)
	}
	return &session, nil
}

// SaveSession writes the full session record atomically.
func (s *FileStore) SaveSession(session *Session) error {
	lock := newFileLock(s.sessionPath(session.ID))
	unlock, err := lock.acquire()
	if err != nil {
		return loomerr.IO("store.SaveSession", "acquire lock", err)
	}
	defer unlock()

	data, err := renderDocument(session, sessionProse(session))
	if err != nil {
		return loomerr.IO("store.SaveSession", "render", err)
	}
	if err := atomicWrite(s.sessionPath(session.ID), data, 0o644); err != nil {
		return loomerr.IO("store.SaveSession", "write", err)
	}
	return nil
}

func sessionProse(session *Session) string {
	var b strings.Builder
	b.WriteString("# session " + session.ID + "\n\n")
	if session.StageID != "" {
		b.WriteString("Driving stage `" + session.StageID + "`.\n")
	} else if session.SourceBranch != "" {
		b.WriteString("Merge session: " + session.SourceBranch + " -> " + session.TargetBranch + "\n")
	}
	return b.String()
}

// ListSessions returns every session document under sessions/.
func (s *FileStore) ListSessions() ([]*Session, error) {
	dir := s.path("sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, loomerr.IO("store.ListSessions", "read sessions dir", err)
	}
	var sessions []*Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var session Session
		if _, err := parseDocument(data, &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// DeleteSession removes a session's on-disk document.
func (s *FileStore) DeleteSession(id string) error {
	if err := os.Remove(s.sessionPath(id)); err != nil {
		if os.IsNotExist(err) {
			return loomerr.NotFound("store.DeleteSession", "session "+id)
		}
		return loomerr.IO("store.DeleteSession", "remove", err)
	}
	return nil
}

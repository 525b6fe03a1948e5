package store

import (
	"fmt"

	"github.com/loomorch/loom/internal/loomerr"
)

// WriteCrashReport persists a structured crash record under crashes/ and
// returns its path.
func (s *FileStore) WriteCrashReport(r *CrashReport) (string, error) {
	name := fmt.Sprintf("%s-%s.md", r.CreatedAt.Format("20060102-150405"), r.SessionID)
	path := s.path("crashes", name)
	data, err := renderDocument(r, r.Detail)
	if err != nil {
		return "", loomerr.IO("store.WriteCrashReport", "render", err)
	}
	if err := atomicWrite(path, data, 0o644); err != nil {
		return "", loomerr.IO("store.WriteCrashReport", "write "+path, err)
	}
	return path, nil
}

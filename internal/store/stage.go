package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/loomorch/loom/internal/loomerr"
)

// stageFilename renders the depth-prefixed filename spec.md §4.A requires:
// stages/<NN>-<stage-id>.md. depth is clamped into two digits.
func stageFilename(id string, depth int) string {
	if depth < 0 {
		depth = 0
	}
	if depth > 99 {
		depth = 99
	}
	return fmt.Sprintf("%02d-%s.md", depth, id)
}

// findStageFile locates the on-disk file for id regardless of its current
// depth prefix, since the prefix can drift when stages are added after
// initial planning (§9 Open Question 1).
func (s *FileStore) findStageFile(id string) (string, error) {
	dir := s.path("stages")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", loomerr.NotFound("store.findStageFile", "stage "+id)
		}
		return "", loomerr.IO("store.findStageFile", "read stages dir", err)
	}
	suffix := "-" + id + ".md"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		// The depth prefix holds no '-', so the first '-' starts "-<id>.md";
		// a plain suffix match would also hit a stage such as "x-<id>".
		if i := strings.IndexByte(e.Name(), '-'); i > 0 && e.Name()[i:] == suffix {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", loomerr.NotFound("store.findStageFile", "stage "+id)
}

// LoadStage reads and parses a single stage document.
func (s *FileStore) LoadStage(id string) (*Stage, error) {
	path, err := s.findStageFile(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loomerr.IO("store.LoadStage", "read "+path, err)
	}
	var stage Stage
	if _, err := parseDocument(data, &stage); err != nil {
		return nil, loomerr.IO("store.LoadStage", "parse "+path, err)
	}
	return &stage, nil
}

// SaveStage writes the full stage record atomically. If the stage's
// previously-written file used a different depth prefix than stage.Depth,
// the old file is renamed to the new name and then overwritten atomically
// as part of this call, so the Store remains the sole writer of stage
// filenames.
func (s *FileStore) SaveStage(stage *Stage) error {
	if err := ValidateID("store.SaveStage", stage.ID); err != nil {
		return err
	}
	for _, dep := range stage.DependsOn {
		if err := ValidateID("store.SaveStage", dep); err != nil {
			return err
		}
	}

	lock := newFileLock(s.path("stages", stage.ID))
	unlock, err := lock.acquire()
	if err != nil {
		return loomerr.IO("store.SaveStage", "acquire lock", err)
	}
	defer unlock()

	newPath := s.path("stages", stageFilename(stage.ID, stage.Depth))
	if oldPath, err := s.findStageFile(stage.ID); err == nil && oldPath != newPath {
		_ = os.Rename(oldPath, newPath)
	}

	prose := stageProse(stage)
	data, err := renderDocument(stage, prose)
	if err != nil {
		return loomerr.IO("store.SaveStage", "render", err)
	}
	if err := atomicWrite(newPath, data, 0o644); err != nil {
		return loomerr.IO("store.SaveStage", "write "+newPath, err)
	}
	return nil
}

// stageProse renders the human-readable commentary body. Readers never
// parse this; it exists for humans browsing stages/ directly.
func stageProse(stage *Stage) string {
	var b strings.Builder
	b.WriteString("# " + stage.Name + "\n\n")
	if stage.Description != "" {
		b.WriteString(stage.Description + "\n\n")
	}
	if len(stage.Acceptance) > 0 {
		b.WriteString("## Acceptance\n\n")
		for _, a := range stage.Acceptance {
			b.WriteString("- `" + a + "`\n")
		}
	}
	return b.String()
}

// ListStages returns every stage document in stages/, sorted by filename
// (which sorts by topological depth, giving directory listings an
// execution-order reading).
func (s *FileStore) ListStages() ([]*Stage, error) {
	dir := s.path("stages")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, loomerr.IO("store.ListStages", "read stages dir", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var stages []*Stage
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue // unreadable entry is skipped; no warning is logged
		}
		var stage Stage
		if _, err := parseDocument(data, &stage); err != nil {
			continue // IO/corruption: skipped without a warning, never overwritten (§7)
		}
		stages = append(stages, &stage)
	}
	return stages, nil
}

// DeleteStage removes a stage's on-disk document.
func (s *FileStore) DeleteStage(id string) error {
	path, err := s.findStageFile(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return loomerr.IO("store.DeleteStage", "remove "+path, err)
	}
	return nil
}

// DepthFromFilename extracts the numeric prefix of a stage filename, used
// by the Graph's reconciliation pass.
func DepthFromFilename(name string) (int, bool) {
	i := strings.IndexByte(name, '-')
	if i <= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[:i])
	if err != nil {
		return 0, false
	}
	return n, true
}

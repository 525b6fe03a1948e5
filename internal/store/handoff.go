package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/loomorch/loom/internal/loomerr"
)

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugNonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// WriteHandoff persists a handoff document under
// handoffs/<date>-<slug(stage_id)>.md and returns its path.
func (s *FileStore) WriteHandoff(h *Handoff) (string, error) {
	date := h.CreatedAt.Format("2006-01-02")
	slug := slugify(h.StageID)
	name := fmt.Sprintf("%s-%s.md", date, slug)
	path := s.path("handoffs", name)

	// A stage may hand off more than once in a day; disambiguate instead of
	// clobbering an earlier handoff the next session hasn't consumed yet.
	for n := 2; fileExists(path) && !sameHandoffSession(path, h.SessionID); n++ {
		name = fmt.Sprintf("%s-%s-%d.md", date, slug, n)
		path = s.path("handoffs", name)
	}

	data, err := renderDocument(h, h.Body)
	if err != nil {
		return "", loomerr.IO("store.WriteHandoff", "render", err)
	}
	if err := atomicWrite(path, data, 0o644); err != nil {
		return "", loomerr.IO("store.WriteHandoff", "write "+path, err)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sameHandoffSession(path, sessionID string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var h Handoff
	if _, err := parseDocument(data, &h); err != nil {
		return false
	}
	return h.SessionID == sessionID
}

// ListHandoffs returns every handoff recorded for stageID, oldest first.
func (s *FileStore) ListHandoffs(stageID string) ([]*Handoff, error) {
	dir := s.path("handoffs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, loomerr.IO("store.ListHandoffs", "read handoffs dir", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*Handoff
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var h Handoff
		prose, err := parseDocument(data, &h)
		if err != nil {
			continue
		}
		if h.StageID != stageID {
			continue
		}
		h.Body = prose
		out = append(out, &h)
	}
	// Filename order is not write order within a day ("-2.md" sorts
	// before ".md"), so order by creation time.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// LatestHandoff returns the most recently written handoff for stageID, or
// nil if none exists.
func (s *FileStore) LatestHandoff(stageID string) (*Handoff, error) {
	all, err := s.ListHandoffs(stageID)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[len(all)-1], nil
}

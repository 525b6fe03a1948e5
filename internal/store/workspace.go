package store

import (
	"os"
	"path/filepath"

	"github.com/loomorch/loom/internal/loomerr"
)

// WorkDirName is the conventional workspace directory name (spec.md §4.A).
const WorkDirName = ".work"

// DiscoverRoot walks up from startDir until a ".work" directory is found,
// mirroring spec.md §6: "The workspace root is discovered by walking up
// from the invocation directory until .work/ is found."
func DiscoverRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", loomerr.IO("store.DiscoverRoot", "resolve "+startDir, err)
	}
	for {
		candidate := filepath.Join(dir, WorkDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", loomerr.NotFound("store.DiscoverRoot", "no "+WorkDirName+" directory found above "+startDir)
		}
		dir = parent
	}
}

// WorktreesDir returns the sibling ".worktrees" directory beside root
// (spec.md §6): root is ".../.work", so worktrees live at ".../.worktrees".
func WorktreesDir(root string) string {
	return filepath.Join(filepath.Dir(root), ".worktrees")
}

// SocketPath, PidPath and LogPath are the daemon's well-known file
// locations beneath the workspace root (spec.md §4.A).
func SocketPath(root string) string { return filepath.Join(root, "orchestrator.sock") }
func PidPath(root string) string    { return filepath.Join(root, "orchestrator.pid") }
func LogPath(root string) string    { return filepath.Join(root, "orchestrator.log") }

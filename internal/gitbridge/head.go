package gitbridge

import "github.com/loomorch/loom/internal/loomerr"

// BranchHead resolves the commit SHA a branch currently points at, used to
// populate a stage's completed_commit the moment a session finishes so the
// merge engine has something to verify against.
func (b *Bridge) BranchHead(branch string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sha, err := b.git.Run("rev-parse", branch)
	if err != nil {
		return "", loomerr.ExternalTransient("gitbridge.BranchHead", "rev-parse "+branch, err)
	}
	return sha, nil
}

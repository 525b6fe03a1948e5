package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// atomicWrite writes data to path via write-to-temp + rename, satisfying
// the file-atomicity invariant (§3.2): a reader never observes a partial
// write.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("store: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

// fileLock serializes concurrent writers to the same logical entity using
// an advisory exclusive lock file (create with O_EXCL, delete when done).
// No repo in the retrieval pack imports a file-locking library — every
// example either shells out to a database with its own locking or has no
// concurrent-writer story at all — so this is the justified stdlib
// fallback for Loom's flat-file store.
type fileLock struct {
	path string
}

func newFileLock(targetPath string) *fileLock {
	return &fileLock{path: targetPath + ".lock"}
}

// acquire blocks briefly, retrying, until the lock file can be created
// exclusively or the deadline passes.
func (l *fileLock) acquire() (func(), error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(l.path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("store: acquire lock %s: %w", l.path, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("store: timed out acquiring lock %s", l.path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Package corelog provides the debug-log sink used across Loom's
// components: a file-backed, timestamped, mutex-guarded logger with a
// package-level injection point so deeply nested helpers can log without
// threading a logger through every call.
package corelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes timestamped lines to a file, fsyncing after every write so
// a crash doesn't lose the last lines. A nil-backed Logger is a no-op.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	sink func(line string)
}

// SetSink installs a callback invoked with every formatted line in
// addition to the file write, used by internal/daemon to fan log lines out
// to SubscribeLogs clients without the logger needing to know about the
// socket protocol.
func (l *Logger) SetSink(fn func(line string)) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = fn
}

// New opens (creating and appending to) the log file at path. An empty path
// returns a no-op logger.
func New(path string) (*Logger, error) {
	if path == "" {
		return &Logger{}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("corelog: create dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("corelog: open %s: %w", path, err)
	}
	return &Logger{file: f}, nil
}

// ForWorkspace opens the daemon's standard log location under workspaceRoot.
func ForWorkspace(workspaceRoot string) (*Logger, error) {
	return New(filepath.Join(workspaceRoot, "orchestrator.log"))
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return &Logger{} }

// Log writes one formatted, timestamped line. Safe for concurrent use.
func (l *Logger) Log(format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	formatted := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339Nano), formatted)
	sink := l.sink
	if _, err := l.file.WriteString(line); err == nil {
		_ = l.file.Sync()
	}
	l.mu.Unlock()
	if sink != nil {
		sink(formatted)
	}
}

// Close releases the underlying file handle, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// pkgLogger is the package-level injection point used by helpers that have
// no direct reference to a *Logger, mirroring the teacher's
// orchestrator.debugLog pattern.
var (
	pkgLogger   *Logger = Nop()
	pkgLoggerMu sync.RWMutex
)

// SetPackage installs l as the package-level logger used by Debugf.
func SetPackage(l *Logger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	if l == nil {
		l = Nop()
	}
	pkgLogger = l
}

// Debugf logs through the package-level logger installed by SetPackage.
func Debugf(format string, args ...interface{}) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()
	l.Log(format, args...)
}

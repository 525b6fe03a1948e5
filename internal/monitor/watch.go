package monitor

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers an early Monitor.Tick whenever the stages or signals
// directories change, falling back to pure polling if the OS watcher
// can't start — the same fallback shape the teacher uses for its own
// signals-directory watcher.
type Watcher struct {
	watcher      *fsnotify.Watcher
	pollInterval time.Duration
	trigger      chan struct{}
	done         chan struct{}
}

// NewWatcher starts watching stagesDir and signalsDir. If the OS watcher
// fails to initialize, Watcher still works: callers simply rely on
// pollInterval ticks delivered through Triggers().
func NewWatcher(stagesDir, signalsDir string, pollInterval time.Duration) *Watcher {
	w := &Watcher{
		pollInterval: pollInterval,
		trigger:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err := fw.Add(stagesDir); err == nil {
			if err := fw.Add(signalsDir); err == nil {
				w.watcher = fw
				go w.watch()
			} else {
				fw.Close()
			}
		} else {
			fw.Close()
		}
	}

	go w.poll()
	return w
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.signal()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.signal()
		}
	}
}

func (w *Watcher) signal() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Triggers returns the channel the Watcher signals on. The orchestrator's
// run loop does not select on it; it calls Monitor.Tick once per poll
// interval.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.trigger
}

// Close stops the watcher and its polling fallback.
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

package orchestrator

import (
	"sync"
	"time"

	"github.com/loomorch/loom/internal/corelog"
	"github.com/loomorch/loom/internal/gitbridge"
	"github.com/loomorch/loom/internal/graph"
	"github.com/loomorch/loom/internal/monitor"
	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/signal"
	"github.com/loomorch/loom/internal/store"
)

// Config is the minimal required configuration for an Orchestrator. Every
// field is required; optional knobs are supplied through Option.
type Config struct {
	Store    store.Store
	Git      *gitbridge.Bridge
	Backend  sessionbackend.Backend
	RepoRoot string
}

// Option configures an Orchestrator beyond its required Config.
type Option func(*Orchestrator)

// WithLogger installs a debug logger.
func WithLogger(l *corelog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMaxParallelSessions caps concurrent Executing stages.
func WithMaxParallelSessions(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithPollInterval overrides the default scheduling-loop sleep.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithStatusInterval overrides the progress-reporter cadence.
func WithStatusInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.statusInterval = d
		}
	}
}

// WithAutoMergeDefault sets the orchestrator-global auto-merge default,
// the lowest-priority tier of the stage > plan > orchestrator resolution
// order (§4.G.3).
func WithAutoMergeDefault(b bool) Option {
	return func(o *Orchestrator) { o.autoMergeDefault = b }
}

// WithForceNoMerge inverts the auto-merge priority: when set, no stage ever
// auto-merges regardless of stage/plan overrides (§9 Open Question 2).
func WithForceNoMerge(b bool) Option {
	return func(o *Orchestrator) { o.forceNoMerge = b }
}

// WithPlanAutoMerge records the plan-wide auto-merge default, the
// middle-priority tier.
func WithPlanAutoMerge(b *bool) Option {
	return func(o *Orchestrator) { o.planAutoMerge = b }
}

// WithContextTokenLimit sets the default per-session context budget handed
// to the Session Backend and the Signal Assembler.
func WithContextTokenLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.contextTokenLimit = n
		}
	}
}

// WithAgentCommand sets the agent binary the Session Backend invokes.
func WithAgentCommand(cmd string) Option {
	return func(o *Orchestrator) { o.agentCommand = cmd }
}

// WithProgressReporter installs a sink for periodic aggregate counts
// (§4.G.1.d); the daemon's status broadcaster is the production consumer.
func WithProgressReporter(fn func(Progress)) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns every Core collaborator (A-F) and runs the scheduling
// loop (§4.G.1). Every state transition is performed by exactly one
// goroutine — the loop driving Run — so the stage state machine needs no
// per-stage locking (§5).
type Orchestrator struct {
	st      store.Store
	git     *gitbridge.Bridge
	backend sessionbackend.Backend
	graph   *graph.Graph
	signals *signal.Builder
	monitor *monitor.Monitor

	repoRoot string

	maxParallel       int
	pollInterval      time.Duration
	statusInterval    time.Duration
	contextTokenLimit int
	agentCommand      string

	autoMergeDefault bool
	forceNoMerge     bool
	planAutoMerge    *bool

	logger     *corelog.Logger
	onProgress func(Progress)
	now        func() time.Time

	mu            sync.Mutex
	running       map[string]string // stageID -> sessionID, mirrors in-flight sessions
	started       map[string]time.Time
	mergeSessions map[string]string // stageID -> merge-resolution sessionID

	shutdown chan struct{}
}

// Progress is the aggregate count the run loop reports at statusInterval.
type Progress struct {
	Executing int
	Pending   int
	Completed int
	Blocked   int
}

// New constructs an Orchestrator from cfg and opts, wiring Graph and Signal
// Assembler internally since neither is externally configurable.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		st:                cfg.Store,
		git:               cfg.Git,
		backend:           cfg.Backend,
		repoRoot:          cfg.RepoRoot,
		graph:             graph.New(),
		signals:           signal.New(),
		maxParallel:       3,
		pollInterval:      2 * time.Second,
		statusInterval:    10 * time.Second,
		contextTokenLimit: 180_000,
		agentCommand:      "claude",
		autoMergeDefault:  true,
		logger:            corelog.Nop(),
		now:               func() time.Time { return time.Now().UTC() },
		running:           make(map[string]string),
		started:           make(map[string]time.Time),
		mergeSessions:     make(map[string]string),
		shutdown:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.monitor = monitor.New(o.st, o.backend)
	return o
}

// Stop signals the run loop to exit after its current iteration (§5
// Cancellation). Sessions already running externally are left alone — the
// next Run call recovers them as orphans or finds them still healthy.
func (o *Orchestrator) Stop() {
	select {
	case <-o.shutdown:
	default:
		close(o.shutdown)
	}
}

// SetProgressReporter installs or replaces the progress sink after
// construction, used by internal/daemon to wire its status broadcaster
// once the Daemon (which needs the Orchestrator to exist first) is built.
func (o *Orchestrator) SetProgressReporter(fn func(Progress)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onProgress = fn
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	o.logger.Log(format, args...)
}

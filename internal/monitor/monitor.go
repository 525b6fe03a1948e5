package monitor

import (
	"sync"
	"time"

	"github.com/loomorch/loom/internal/sessionbackend"
	"github.com/loomorch/loom/internal/store"
)

// Monitor owns no mutable data beyond three last-seen maps. Every field
// below is one of those maps or the collaborators needed to read fresh
// state and generate handoff/crash documents.
type Monitor struct {
	mu sync.Mutex

	st      store.Store
	backend sessionbackend.Backend
	now     func() time.Time

	lastStageStatus   map[string]store.StageStatus
	lastSessionStatus map[string]store.SessionStatus
	lastContextHealth map[string]string
}

// New returns a Monitor over st and backend, using the real clock.
func New(st store.Store, backend sessionbackend.Backend) *Monitor {
	return &Monitor{
		st:                st,
		backend:           backend,
		now:               func() time.Time { return time.Now().UTC() },
		lastStageStatus:   make(map[string]store.StageStatus),
		lastSessionStatus: make(map[string]store.SessionStatus),
		lastContextHealth: make(map[string]string),
	}
}

// Tick performs one observation pass: load everything from the Store,
// diff against last-seen state, and return the events that fired. It is
// the caller's responsibility to invoke Tick on whatever cadence it likes
// (the poll loop, or sooner via an fsnotify trigger — see Watcher).
func (m *Monitor) Tick() ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event

	stages, err := m.st.ListStages()
	if err != nil {
		return nil, err
	}
	for _, stg := range stages {
		events = append(events, m.diffStage(stg)...)
	}

	sessions, err := m.st.ListSessions()
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		evs, err := m.diffSession(sess)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}

	return events, nil
}

func (m *Monitor) diffStage(stg *store.Stage) []Event {
	prev, seen := m.lastStageStatus[stg.ID]
	m.lastStageStatus[stg.ID] = stg.Status
	if seen && prev == stg.Status {
		return nil
	}

	var kind EventKind
	switch stg.Status {
	case store.StageCompleted:
		kind = EventStageCompleted
	case store.StageBlocked, store.StageMergeBlocked:
		kind = EventStageBlocked
	case store.StageWaitingForInput:
		kind = EventStageWaitingForInput
	case store.StageExecuting:
		if seen && (prev == store.StageWaitingForInput || prev == store.StageBlocked) {
			kind = EventStageResumedExecution
		}
	case store.StageNeedsHumanReview:
		kind = EventStageEscalated
	}
	if kind == "" {
		return nil
	}
	return []Event{{Kind: kind, StageID: stg.ID}}
}

func (m *Monitor) diffSession(sess *store.Session) ([]Event, error) {
	var events []Event

	prevStatus, seenStatus := m.lastSessionStatus[sess.ID]
	m.lastSessionStatus[sess.ID] = sess.Status
	if !seenStatus || prevStatus != sess.Status {
		switch sess.Status {
		case store.SessionNeedsHandoff:
			events = append(events, Event{Kind: EventSessionNeedsHandoff, SessionID: sess.ID, StageID: sess.StageID})
		case store.SessionCrashed:
			events = append(events, Event{Kind: EventSessionCrashed, SessionID: sess.ID, StageID: sess.StageID})
		}
		if sess.ExternalName != "" && isMergeSession(sess) && sess.Status == store.SessionCompleted {
			events = append(events, Event{Kind: EventMergeSessionCompleted, SessionID: sess.ID, StageID: sess.StageID})
		}
	}

	ratio := sess.ContextUsageRatio()
	health := contextHealth(ratio)
	prevHealth := m.lastContextHealth[sess.ID]
	if health != prevHealth {
		m.lastContextHealth[sess.ID] = health
		switch health {
		case "yellow":
			events = append(events, Event{Kind: EventSessionContextWarning, SessionID: sess.ID, StageID: sess.StageID})
		case "red":
			path, err := m.writeHandoffOnRed(sess)
			if err != nil {
				return nil, err
			}
			events = append(events, Event{Kind: EventSessionContextCritical, SessionID: sess.ID, StageID: sess.StageID, HandoffPath: path})
		}
	}

	if sess.Status == store.SessionRunning || sess.Status == store.SessionSpawning {
		alive, err := m.backend.SessionIsRunning(sess.ExternalName)
		if err != nil {
			return nil, err
		}
		if !alive {
			path, err := m.writeCrashReport(sess)
			if err != nil {
				return nil, err
			}
			events = append(events, Event{Kind: EventSessionCrashed, SessionID: sess.ID, StageID: sess.StageID, CrashReportPath: path})
		}
	}

	return events, nil
}

func isMergeSession(sess *store.Session) bool {
	return sess.SourceBranch != "" && sess.TargetBranch != ""
}

// writeHandoffOnRed distills a session's current state into a handoff
// document the moment it crosses the red context threshold, so a
// replacement session never starts from nothing.
func (m *Monitor) writeHandoffOnRed(sess *store.Session) (string, error) {
	mem, err := m.st.LoadMemory(sess.ID)
	if err != nil {
		return "", err
	}
	h := &store.Handoff{
		StageID:        sess.StageID,
		SessionID:      sess.ID,
		CreatedAt:      m.now(),
		ContextPct:     sess.ContextUsageRatio() * 100,
		Summary:        "Context budget crossed the red threshold; handing off.",
		NextSteps:      mem.Notes,
		OpenQuestions:  mem.Questions,
	}
	return m.st.WriteHandoff(h)
}

func (m *Monitor) writeCrashReport(sess *store.Session) (string, error) {
	r := &store.CrashReport{
		SessionID: sess.ID,
		StageID:   sess.StageID,
		CreatedAt: m.now(),
		LastKnown: string(sess.Status),
		Detail:    "external process for session " + sess.ExternalName + " is no longer running",
	}
	return m.st.WriteCrashReport(r)
}

package daemon

import (
	"net"
	"sync"
)

// subscriberList is a goroutine-safe set of client connections subscribed
// to one broadcast stream (status or logs). Two independently-locked
// instances exist on Daemon — one per stream — generalizing the
// sync.RWMutex-guarded map idiom used throughout internal/orchestrator
// (spec.md §4.H, §5).
type subscriberList struct {
	mu      sync.RWMutex
	clients map[net.Conn]struct{}
}

func newSubscriberList() *subscriberList {
	return &subscriberList{clients: make(map[net.Conn]struct{})}
}

func (l *subscriberList) add(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[c] = struct{}{}
}

func (l *subscriberList) remove(c net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, c)
}

// broadcast sends resp to every subscriber. A write that fails (for
// example because the client hung up) removes that subscriber. Writes
// carry no deadline, so a subscriber that stops reading without closing
// its connection holds up the broadcast until its write fails.
func (l *subscriberList) broadcast(resp Response) {
	l.mu.RLock()
	targets := make([]net.Conn, 0, len(l.clients))
	for c := range l.clients {
		targets = append(targets, c)
	}
	l.mu.RUnlock()

	var dead []net.Conn
	for _, c := range targets {
		if err := writeResponse(c, resp); err != nil {
			dead = append(dead, c)
		}
	}
	if len(dead) == 0 {
		return
	}
	l.mu.Lock()
	for _, c := range dead {
		delete(l.clients, c)
	}
	l.mu.Unlock()
}

func (l *subscriberList) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

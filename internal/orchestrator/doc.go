// Package orchestrator is the Orchestrator Core (spec.md §4.G): it owns the
// Store, Graph, Git Bridge, Signal Assembler, Session Backend, and Monitor,
// and drives the scheduling loop, orphan recovery, the auto-merge engine,
// and the retry policy. It is the only component that mutates both the
// Graph and the Store in response to Monitor events.
package orchestrator

package scheduler

import "sync"

// Gate holders.
const (
	HolderScan = "scan"
	HolderSync = "sync"
)

// RunGate admits one scan or one sync at a time. Both managers share it so
// the check and the claim happen under one lock.
type RunGate struct {
	mu     sync.Mutex
	holder string
}

// NewRunGate creates an open gate.
func NewRunGate() *RunGate {
	return &RunGate{}
}

// TryAcquire claims the gate for holder. It reports the current holder when
// the gate is taken.
func (g *RunGate) TryAcquire(holder string) (current string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != "" {
		return g.holder, false
	}
	g.holder = holder
	return holder, true
}

// Release opens the gate if holder owns it.
func (g *RunGate) Release(holder string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder == holder {
		g.holder = ""
	}
}

// Holder returns who holds the gate, or "" when it is open.
func (g *RunGate) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

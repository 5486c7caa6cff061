package osadapt

import (
	"sync"
	"time"

	"moshvm/internal/logging"
)

// spuriousWakeupRetry compensates for a host-platform condition-variable
// bug that occasionally wakes a waiter before its deadline or before any
// flag actually changed. Preserved behind a constant, per the design note
// in the source this adaptation layer was ported from, so it can be
// disabled on a host known not to need it.
const spuriousWakeupRetry = 100 * time.Millisecond

// Target is the readiness handle for one registered endpoint. It tracks
// read/write readiness independently and notifies its owning Selector only
// on the rising edge of each flag (false -> true).
type Target struct {
	sel           *Selector
	id            int
	hasReadData   bool
	hasWriteData  bool
	deregistered  bool
}

// ID returns the descriptor (or sentinel, for the signal endpoint) this
// Target was created with.
func (t *Target) ID() int {
	return t.id
}

// HasReadData reports the current read-readiness flag.
func (t *Target) HasReadData() bool {
	t.sel.mu.Lock()
	defer t.sel.mu.Unlock()
	return t.hasReadData
}

// HasWriteData reports the current write-readiness flag.
func (t *Target) HasWriteData() bool {
	t.sel.mu.Lock()
	defer t.sel.mu.Unlock()
	return t.hasWriteData
}

// UpdateRead sets the read-readiness flag. The Selector is notified only if
// this is a rising edge.
func (t *Target) UpdateRead(ready bool) {
	t.sel.mu.Lock()
	rising := ready && !t.hasReadData
	t.hasReadData = ready
	t.sel.mu.Unlock()
	if rising {
		t.sel.notify()
	}
}

// UpdateWrite sets the write-readiness flag. The Selector is notified only
// if this is a rising edge.
func (t *Target) UpdateWrite(ready bool) {
	t.sel.mu.Lock()
	rising := ready && !t.hasWriteData
	t.hasWriteData = ready
	t.sel.mu.Unlock()
	if rising {
		t.sel.notify()
	}
}

// Close deregisters the Target from its Selector. A Selector must not be
// destroyed while any of its Targets are still registered.
func (t *Target) Close() {
	t.sel.mu.Lock()
	if !t.deregistered {
		delete(t.sel.targets, t)
		t.deregistered = true
	}
	t.sel.mu.Unlock()
}

// Selector tracks readiness across a set of Targets and lets a single
// caller block until any of a requested subset becomes ready, or until a
// timeout elapses. It owns one mutex and one condition variable; Targets
// hold only a non-owning back-reference and may call into the Selector
// from any thread/goroutine.
type Selector struct {
	logger  logging.Logger
	mu      sync.Mutex
	cond    *sync.Cond
	targets map[*Target]struct{}
}

// NewSelector creates an empty Selector.
func NewSelector(logger logging.Logger) *Selector {
	s := &Selector{
		logger:  logger,
		targets: make(map[*Target]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// NewTarget registers and returns a new Target with the given id.
func (s *Selector) NewTarget(id int) *Target {
	t := &Target{sel: s, id: id}
	s.mu.Lock()
	s.targets[t] = struct{}{}
	s.mu.Unlock()
	return t
}

// Close asserts that no Targets remain registered, then releases the
// Selector. Destroying a Selector with live Targets is a programming
// error -- those Targets were promised a live back-reference.
func (s *Selector) Close() {
	s.mu.Lock()
	n := len(s.targets)
	s.mu.Unlock()
	if n != 0 {
		panic(s.logger.Sprintf("Selector closed with %d live Targets", n))
	}
}

func (s *Selector) notify() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// readyAmong returns the subset of candidates whose matching flag(s) are
// currently set. Must be called with s.mu held.
func readyAmong(candidates []*Target, wantRead, wantWrite []*Target) []*Target {
	ready := make([]*Target, 0, len(candidates))
	seen := make(map[*Target]bool, len(candidates))
	for _, t := range wantRead {
		if t.hasReadData && !seen[t] {
			ready = append(ready, t)
			seen[t] = true
		}
	}
	for _, t := range wantWrite {
		if t.hasWriteData && !seen[t] {
			ready = append(ready, t)
			seen[t] = true
		}
	}
	return ready
}

// Select blocks until at least one Target in readSet is read-ready or one
// Target in writeSet is write-ready, then returns the ready subset. With a
// nil timeout it waits indefinitely. With a timeout, the absolute deadline
// is computed before the mutex is taken.
func (s *Selector) Select(readSet, writeSet []*Target, timeout *time.Duration) []*Target {
	var deadline time.Time
	hasDeadline := timeout != nil
	if hasDeadline {
		deadline = time.Now().Add(*timeout)
	}

	all := append(append([]*Target{}, readSet...), writeSet...)

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		ready := readyAmong(all, readSet, writeSet)
		if len(ready) > 0 {
			return ready
		}
		if !hasDeadline {
			s.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ready
		}
		if s.timedWaitLocked(remaining) {
			// woke on notify; loop re-checks readiness
			continue
		}
		// Spurious premature wakeup: the underlying wait returned before
		// the deadline and before any flag changed. Retry after a short
		// pause if we still have time left.
		if time.Until(deadline) > 0 {
			s.mu.Unlock()
			time.Sleep(spuriousWakeupRetry)
			s.mu.Lock()
		}
	}
}

// SelectAll blocks until any registered Target's read or write flag is set.
func (s *Selector) SelectAll(timeout *time.Duration) []*Target {
	s.mu.Lock()
	all := make([]*Target, 0, len(s.targets))
	for t := range s.targets {
		all = append(all, t)
	}
	s.mu.Unlock()
	return s.Select(all, all, timeout)
}

// timedWaitLocked waits on the condition variable for up to d, returning
// true if it was notified (or may have been, in the spurious-wakeup case)
// before d elapsed, false if the timer fired first. Must be called with
// s.mu held; re-acquires s.mu before returning.
func (s *Selector) timedWaitLocked(d time.Duration) bool {
	woke := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		close(woke)
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
	select {
	case <-woke:
		return false
	default:
		return true
	}
}

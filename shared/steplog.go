package shared

import (
	"fmt"
	"sync"
	"time"
)

// StepLog is the human-readable, append-only log of a flow.
// Entries are never rewritten; followers read them by position and never miss one.
type StepLog struct {
	mu        sync.Mutex
	entries   []string
	followers map[*Follower]struct{}
	now       func() time.Time
	closed    bool
}

// NewStepLog creates an empty log
func NewStepLog() *StepLog {
	return &StepLog{
		followers: make(map[*Follower]struct{}),
		now:       time.Now,
	}
}

// Add appends a timestamped entry
func (l *StepLog) Add(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := fmt.Sprintf("%s: %s", l.now().Format("15:04:05"), message)
	l.entries = append(l.entries, entry)

	for f := range l.followers {
		f.signal()
	}
}

// Addf appends a formatted entry
func (l *StepLog) Addf(format string, args ...interface{}) {
	l.Add(fmt.Sprintf(format, args...))
}

// Entries returns a copy of all entries so far
func (l *StepLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries
func (l *StepLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Closed reports whether Close has been called
func (l *StepLog) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Follow starts reading the log from its first entry
func (l *StepLog) Follow() *Follower {
	l.mu.Lock()
	defer l.mu.Unlock()

	f := &Follower{log: l, notify: make(chan struct{}, 1)}
	if l.closed {
		close(f.notify)
		return f
	}
	l.followers[f] = struct{}{}
	if len(l.entries) > 0 {
		f.signal()
	}
	return f
}

// Close ends all follows. Entries added afterwards are still recorded.
func (l *StepLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	for f := range l.followers {
		delete(l.followers, f)
		close(f.notify)
	}
}

// Follower tracks a reader's position in a StepLog. Wake-ups coalesce, so a
// slow reader catches up on the next Next call instead of losing entries.
type Follower struct {
	log    *StepLog
	notify chan struct{}
	offset int
}

// Notify receives after new entries arrive and is closed when the follow ends
func (f *Follower) Notify() <-chan struct{} {
	return f.notify
}

// Next returns the entries appended since the previous call
func (f *Follower) Next() []string {
	f.log.mu.Lock()
	defer f.log.mu.Unlock()

	if f.offset >= len(f.log.entries) {
		return nil
	}
	out := make([]string, len(f.log.entries)-f.offset)
	copy(out, f.log.entries[f.offset:])
	f.offset = len(f.log.entries)
	return out
}

// Stop ends the follow early. Safe to call more than once.
func (f *Follower) Stop() {
	f.log.mu.Lock()
	defer f.log.mu.Unlock()

	if _, ok := f.log.followers[f]; ok {
		delete(f.log.followers, f)
		close(f.notify)
	}
}

// signal must be called with the log locked
func (f *Follower) signal() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

package lock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ResourceLock is a reentrant exclusive lock over the shared index
// resource. Ongoing validation work and ad-hoc re-indexing must never
// mutate the index concurrently, but one logical call chain may acquire
// the lock at nested call sites. Ownership is tracked by a caller-supplied
// owner token rather than goroutine identity, which Go deliberately does
// not expose.
type ResourceLock struct {
	sem chan struct{}

	mu     sync.Mutex
	owner  string
	label  string
	depth  int
	logger *log.Logger
}

// NewResourceLock creates an unheld lock.
func NewResourceLock(logger *log.Logger) *ResourceLock {
	return &ResourceLock{
		sem:    make(chan struct{}, 1),
		logger: logger,
	}
}

// Acquire takes the lock for owner. If owner already holds it the depth
// counter is incremented and Acquire returns immediately; otherwise it
// blocks until the lock is free or ctx is done. label names the operation
// for diagnostics.
func (l *ResourceLock) Acquire(ctx context.Context, owner, label string) error {
	l.mu.Lock()
	if l.depth > 0 && l.owner == owner {
		l.depth++
		depth := l.depth
		l.mu.Unlock()
		l.log("DEBUG", "reentrant acquisition owner=%s label=%s depth=%d", owner, label, depth)
		return nil
	}
	l.mu.Unlock()

	l.log("DEBUG", "lock requested owner=%s label=%s", owner, label)
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	l.owner = owner
	l.label = label
	l.depth = 1
	l.mu.Unlock()
	l.log("DEBUG", "lock acquired owner=%s label=%s", owner, label)
	return nil
}

// Release decrements the depth counter; the underlying exclusion is
// released only when depth reaches zero. Releasing an unheld lock logs a
// warning and returns: the lock is advisory infrastructure, and misuse
// should not crash the process.
func (l *ResourceLock) Release() {
	l.mu.Lock()
	if l.depth <= 0 {
		l.mu.Unlock()
		l.log("WARN", "attempted to release resource lock when not held")
		return
	}

	l.depth--
	if l.depth > 0 {
		depth := l.depth
		l.mu.Unlock()
		l.log("DEBUG", "reentrant release depth=%d", depth)
		return
	}

	owner := l.owner
	l.owner = ""
	l.label = ""
	l.mu.Unlock()

	<-l.sem
	l.log("DEBUG", "lock released owner=%s", owner)
}

// Holder reports the current owner label, or "" when unheld.
func (l *ResourceLock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth == 0 {
		return ""
	}
	return l.label
}

func (l *ResourceLock) log(level, format string, args ...any) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s %s lock: %s", time.Now().Format(time.RFC3339), level, msg)
}

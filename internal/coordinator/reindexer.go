package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/msageha/refinery/internal/events"
	"github.com/msageha/refinery/internal/lock"
)

// Reindexer appends newly accepted submissions to the external index in
// the background. Each store update cancels any in-flight re-index task
// and replaces it with a fresh one; the caller never waits for the stale
// task, keeping the validation critical path unblocked. Only the lock's
// critical section requires mutual exclusion, so the brief window where a
// cancelled task is still unwinding is harmless.
type Reindexer struct {
	lock       *lock.ResourceLock
	store      ResultStore
	index      Index
	bus        *events.Bus
	chunkSizes []int
	logger     *log.Logger
	level      LogLevel

	mu       sync.Mutex
	chunkIdx int
	runSeq   int
	current  *reindexTask
}

type reindexTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReindexer creates a reindexer over the given store and index.
func NewReindexer(rs ResultStore, index Index, bus *events.Bus, chunkSizes []int, logger *log.Logger, level LogLevel) *Reindexer {
	if len(chunkSizes) == 0 {
		chunkSizes = []int{250, 500, 1000, 2000}
	}
	return &Reindexer{
		lock:       lock.NewResourceLock(logger),
		store:      rs,
		index:      index,
		bus:        bus,
		chunkSizes: chunkSizes,
		logger:     logger,
		level:      level,
	}
}

// Lock exposes the resource lock so other index mutators can serialize
// against in-flight re-indexing.
func (r *Reindexer) Lock() *lock.ResourceLock {
	return r.lock
}

// OnStoreUpdated cancels any running re-index task without waiting for it
// and schedules a replacement.
func (r *Reindexer) OnStoreUpdated() {
	if r.index == nil {
		return
	}

	r.mu.Lock()
	if r.current != nil {
		select {
		case <-r.current.done:
		default:
			r.log(LogLevelWarn, "previous re-index still in progress, cancelling it")
			r.current.cancel()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &reindexTask{cancel: cancel, done: make(chan struct{})}
	r.current = task
	r.runSeq++
	owner := fmt.Sprintf("reindex-%d", r.runSeq)
	r.mu.Unlock()

	go func() {
		defer close(task.done)
		r.run(ctx, owner)
	}()
	r.log(LogLevelInfo, "launched background re-index task owner=%s", owner)
}

// run is the body of one re-index task. Cancellation is expected control
// flow, not an error; any other failure emits an event and leaves the
// coordinator untouched. The lock is always released on the way out.
func (r *Reindexer) run(ctx context.Context, owner string) {
	if err := r.lock.Acquire(ctx, owner, "incremental re-index"); err != nil {
		r.log(LogLevelInfo, "re-index cancelled while waiting for lock owner=%s", owner)
		return
	}
	defer r.lock.Release()

	if ctx.Err() != nil {
		r.log(LogLevelInfo, "re-index cancelled (newer update triggered) owner=%s", owner)
		return
	}

	delta := r.store.Unragged()
	if len(delta) == 0 {
		r.log(LogLevelDebug, "re-index: no new submissions to process")
		r.bus.Publish(events.EventReindexComplete, map[string]interface{}{
			"chunk_size":      nil,
			"new_submissions": 0,
		})
		return
	}

	chunkSize := r.nextChunkSize()
	r.log(LogLevelInfo, "re-index: processing %d new submissions chunk_size=%d", len(delta), chunkSize)

	// Batches accumulate in the index under a size-specific label; the
	// index retrieves by relevance regardless of which batch a chunk
	// came from.
	sections := make([]string, len(delta))
	for i, e := range delta {
		sections[i] = fmt.Sprintf("%s\nSUBMISSION #%d | Accepted: %s\n%s\n\n%s\n",
			strings.Repeat("=", 80), e.Number, e.Timestamp, strings.Repeat("=", 80), e.Content)
	}
	combined := strings.Join(sections, "\n\n")
	label := fmt.Sprintf("rag_shared_training_update_%d", chunkSize)

	if err := r.index.AppendBatch(ctx, combined, label, chunkSize); err != nil {
		if ctx.Err() != nil {
			r.log(LogLevelInfo, "re-index cancelled (newer update triggered) owner=%s", owner)
			return
		}
		r.log(LogLevelError, "re-index failed: %v", err)
		r.bus.Publish(events.EventReindexError, map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	total := r.store.Count()
	r.store.MarkRagged(total)

	r.log(LogLevelInfo, "re-index complete new_submissions=%d chunk_size=%d total=%d", len(delta), chunkSize, total)
	r.bus.Publish(events.EventReindexComplete, map[string]interface{}{
		"chunk_size":        chunkSize,
		"new_submissions":   len(delta),
		"total_submissions": total,
	})
}

// nextChunkSize returns the current granularity and advances the
// rotating cycle, wrapping at the end.
func (r *Reindexer) nextChunkSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.chunkSizes[r.chunkIdx]
	r.chunkIdx = (r.chunkIdx + 1) % len(r.chunkSizes)
	return size
}

// Shutdown cancels the in-flight task, if any, and joins it with a
// timeout. Unlike supersede, shutdown is deterministic.
func (r *Reindexer) Shutdown(timeout time.Duration) {
	r.mu.Lock()
	task := r.current
	r.mu.Unlock()

	if task == nil {
		return
	}
	task.cancel()

	select {
	case <-task.done:
	case <-time.After(timeout):
		r.log(LogLevelWarn, "re-index task did not finish within %s at shutdown", timeout)
	}
}

func (r *Reindexer) log(level LogLevel, format string, args ...any) {
	if r.logger == nil || level < r.level {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	r.logger.Printf("%s %s reindexer: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

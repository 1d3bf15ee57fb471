// Package queue implements the shared submission queue between submitters
// and the validator.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/msageha/refinery/internal/model"
)

// SubmissionQueue is a FIFO queue with an overflow policy: when a blocking
// dequeue finds the backlog at or above the overflow threshold, everything
// but the most recently enqueued submission is discarded. A backlog that
// deep means submitters have outpaced the validator and only the freshest
// submission retains relevance. Batch dequeue never discards; batch
// draining is assumed to keep up, and the pause decision belongs to the
// coordinator.
type SubmissionQueue struct {
	mu                sync.Mutex
	items             []model.Submission
	notEmpty          chan struct{}
	overflowThreshold int
	logger            *log.Logger
}

// New creates a queue with the given overflow threshold.
func New(overflowThreshold int, logger *log.Logger) *SubmissionQueue {
	if overflowThreshold <= 0 {
		overflowThreshold = model.DefaultOverflowThreshold
	}
	return &SubmissionQueue{
		notEmpty:          make(chan struct{}, 1),
		overflowThreshold: overflowThreshold,
		logger:            logger,
	}
}

// Enqueue appends a submission and signals waiters. Never blocks.
func (q *SubmissionQueue) Enqueue(sub model.Submission) {
	q.mu.Lock()
	q.items = append(q.items, sub)
	size := len(q.items)
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}

	q.log("DEBUG", "enqueued id=%s queue_size=%d", sub.SubmissionID, size)
}

// DequeueBlocking waits until at least one submission exists, then applies
// the overflow policy: at or above the threshold it returns the newest
// submission and clears the rest; otherwise it returns the FIFO head.
// The internal mutex is never held while waiting.
func (q *SubmissionQueue) DequeueBlocking(ctx context.Context) (model.Submission, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			sub := q.takeLocked()
			q.mu.Unlock()
			return sub, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return model.Submission{}, ctx.Err()
		case <-q.notEmpty:
		}
	}
}

// takeLocked applies the overflow policy and removes one submission.
// Caller holds q.mu and has verified the queue is non-empty.
func (q *SubmissionQueue) takeLocked() model.Submission {
	if len(q.items) >= q.overflowThreshold {
		latest := q.items[len(q.items)-1]
		cleared := len(q.items) - 1
		q.items = nil
		q.log("WARN", "queue overflow (%d submissions), cleared %d, processing latest id=%s",
			cleared+1, cleared, latest.SubmissionID)
		return latest
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// DequeueBatch removes up to maxCount submissions FIFO from the head
// without waiting and without shedding. At or above the overflow threshold
// it logs a backpressure warning; pausing submitters is the coordinator's
// call.
func (q *SubmissionQueue) DequeueBatch(maxCount int) []model.Submission {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	if len(q.items) >= q.overflowThreshold {
		q.log("WARN", "queue_size=%d >= overflow_threshold=%d, submitters should be paused",
			len(q.items), q.overflowThreshold)
	}

	take := maxCount
	if take > len(q.items) {
		take = len(q.items)
	}
	batch := make([]model.Submission, take)
	copy(batch, q.items[:take])
	q.items = q.items[take:]

	q.log("DEBUG", "batch dequeued count=%d queue_size=%d", take, len(q.items))
	return batch
}

// Size returns the current queue length.
func (q *SubmissionQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Peek returns the head submission without removing it.
func (q *SubmissionQueue) Peek() (model.Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.Submission{}, false
	}
	return q.items[0], true
}

// Clear discards all queued submissions.
func (q *SubmissionQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
	q.log("INFO", "queue cleared")
}

func (q *SubmissionQueue) log(level, format string, args ...any) {
	if q.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	q.logger.Printf("%s %s queue: %s", time.Now().Format(time.RFC3339), level, msg)
}

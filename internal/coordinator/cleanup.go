package coordinator

import (
	"context"
	"fmt"

	"github.com/msageha/refinery/internal/events"
)

// performCleanupReview runs the four-phase review of the accepted results
// store, triggered every Cleanup.AcceptanceInterval acceptances:
//
//	phase 1: ask the validator for a removal proposal over the full store;
//	phase 2: look up the proposed submission's content by stable number;
//	phase 3: have the validator independently confirm the removal;
//	phase 4: execute the removal and report.
//
// Each terminal state emits a distinct completion event and only phase-4
// success increments removals-executed and persists stats. Any failure
// aborts only this pass; the next trigger attempts again.
func (c *Coordinator) performCleanupReview(ctx context.Context) {
	c.countersMu.Lock()
	c.counters.CleanupReviewsPerformed++
	review := c.counters.CleanupReviewsPerformed
	acceptances := c.counters.TotalAcceptances
	c.countersMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.log(LogLevelError, "cleanup review #%d panicked: %v", review, r)
			c.bus.Publish(events.EventCleanupReviewError, map[string]interface{}{
				"review_number": review,
				"error":         fmt.Sprint(r),
			})
		}
	}()

	c.log(LogLevelInfo, "cleanup review #%d started (triggered at %d acceptances)", review, acceptances)
	c.bus.Publish(events.EventCleanupReviewStarted, map[string]interface{}{
		"review_number":     review,
		"total_acceptances": acceptances,
	})

	// Phase 1: removal proposal.
	proposal, err := c.validator.ProposeRemoval(ctx)
	if err != nil {
		c.log(LogLevelError, "cleanup review #%d proposal failed: %v", review, err)
		c.bus.Publish(events.EventCleanupReviewError, map[string]interface{}{
			"review_number": review,
			"error":         err.Error(),
		})
		return
	}
	if proposal == nil {
		c.log(LogLevelInfo, "cleanup review #%d: no removal needed", review)
		c.bus.Publish(events.EventCleanupReviewComplete, map[string]interface{}{
			"review_number":    review,
			"removal_proposed": false,
			"removal_executed": false,
		})
		return
	}

	c.countersMu.Lock()
	c.counters.RemovalsProposed++
	c.countersMu.Unlock()

	number := proposal.SubmissionNumber
	reasoning := proposal.Reasoning
	c.log(LogLevelInfo, "cleanup review #%d: removal proposed for submission #%d", review, number)
	c.bus.Publish(events.EventCleanupRemovalProposed, map[string]interface{}{
		"review_number":     review,
		"submission_number": number,
		"reasoning":         truncate(reasoning, 500),
	})

	// Phase 2: content lookup. The proposal may reference a submission
	// that never existed or was already removed.
	content, found := c.store.GetByNumber(number)
	if !found {
		c.log(LogLevelWarn, "cleanup review #%d: submission #%d not found for validation", review, number)
		c.bus.Publish(events.EventCleanupReviewComplete, map[string]interface{}{
			"review_number":    review,
			"removal_proposed": true,
			"removal_executed": false,
			"reason":           "submission not found",
		})
		return
	}

	// Phase 3: independent validation of the removal.
	validated, err := c.validator.ValidateRemoval(ctx, number, content, reasoning)
	if err != nil {
		c.log(LogLevelError, "cleanup review #%d validation failed: %v", review, err)
		c.bus.Publish(events.EventCleanupReviewError, map[string]interface{}{
			"review_number": review,
			"error":         err.Error(),
		})
		return
	}
	if !validated {
		c.log(LogLevelInfo, "cleanup review #%d: removal of submission #%d was NOT validated, keeping it", review, number)
		c.bus.Publish(events.EventCleanupReviewComplete, map[string]interface{}{
			"review_number":    review,
			"removal_proposed": true,
			"removal_executed": false,
			"reason":           "removal not validated",
		})
		return
	}

	// Phase 4: execute.
	removed, err := c.store.Remove(number)
	if err != nil {
		c.log(LogLevelError, "cleanup review #%d removal of #%d failed: %v", review, number, err)
	}
	if removed {
		c.countersMu.Lock()
		c.counters.RemovalsExecuted++
		removals := c.counters.RemovalsExecuted
		c.countersMu.Unlock()

		c.log(LogLevelInfo, "cleanup review #%d: removed submission #%d (total removals: %d)", review, number, removals)
		c.bus.Publish(events.EventCleanupSubmissionRemoved, map[string]interface{}{
			"review_number":     review,
			"submission_number": number,
			"reasoning":         truncate(reasoning, 500),
			"total_removals":    removals,
		})
		c.addLogEvent("cleanup_submission_removed",
			fmt.Sprintf("Cleanup removed submission #%d: %s", number, truncate(reasoning, 200)),
			map[string]interface{}{"submission_number": number, "total_removals": removals})

		c.saveStats()
		c.reindexer.OnStoreUpdated()
	} else if err == nil {
		c.log(LogLevelWarn, "cleanup review #%d: failed to remove submission #%d", review, number)
	}

	c.bus.Publish(events.EventCleanupReviewComplete, map[string]interface{}{
		"review_number":     review,
		"removal_proposed":  true,
		"removal_executed":  removed,
		"submission_number": number,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

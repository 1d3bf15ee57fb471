// Package events implements the non-blocking event bus the coordinator
// publishes lifecycle events through.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	EventSystemStarted EventType = "system_started"
	EventSystemStopped EventType = "system_stopped"
	EventSystemReset   EventType = "system_reset"

	EventNewSubmission      EventType = "new_submission"
	EventSubmissionAccepted EventType = "submission_accepted"
	EventSubmissionRejected EventType = "submission_rejected"

	EventSubmittersPaused  EventType = "submitters_paused"
	EventSubmittersResumed EventType = "submitters_resumed"

	EventCleanupReviewStarted     EventType = "cleanup_review_started"
	EventCleanupRemovalProposed   EventType = "cleanup_removal_proposed"
	EventCleanupSubmissionRemoved EventType = "cleanup_submission_removed"
	EventCleanupReviewComplete    EventType = "cleanup_review_complete"
	EventCleanupReviewError       EventType = "cleanup_review_error"

	EventReindexComplete EventType = "reindex_complete"
	EventReindexError    EventType = "reindex_error"

	EventWorkflowUpdated EventType = "workflow_updated"
	EventTaskStarted     EventType = "task_started"
	EventTaskCompleted   EventType = "task_completed"

	EventBoostNextCountUpdated EventType = "boost_next_count_updated"
	EventCategoryBoostToggled  EventType = "category_boost_toggled"
	EventTaskBoostToggled      EventType = "task_boost_toggled"
)

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe event bus. Events are delivered
// asynchronously via buffered channels; if a subscriber's channel is full
// the event is dropped for that subscriber. Publishing is fire-and-forget
// and never propagates failures to callers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// DefaultBufferSize is the per-subscriber channel capacity used when the
// caller does not pick one.
const DefaultBufferSize = 100

// NewBus creates a new event bus with the specified buffer size per
// subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type. The
// subscriber function runs on its own delivery goroutine. Returns an
// unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					// A panicking subscriber must not take the bus down.
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish sends an event to all subscribers of the given type without
// blocking the caller.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			// Channel full, drop for this subscriber.
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}

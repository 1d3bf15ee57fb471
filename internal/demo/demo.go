// Package demo provides scripted submitter and validator collaborators
// so the daemon can run without external model backends.
package demo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msageha/refinery/internal/model"
)

// Submitter produces numbered placeholder submissions at a fixed cadence
// and honors the coordinator's pause flag.
type Submitter struct {
	id       int
	interval time.Duration
	counter  atomic.Int64
	paused   atomic.Bool

	mu       sync.Mutex
	accepted int
	rejected []string
}

func NewSubmitter(id int, interval time.Duration) *Submitter {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Submitter{id: id, interval: interval}
}

func (s *Submitter) ID() int { return s.id }

func (s *Submitter) Generate(ctx context.Context) (*model.Submission, error) {
	if s.paused.Load() {
		return nil, nil
	}

	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	n := s.counter.Add(1)
	id, err := model.GenerateSubmissionID(s.id)
	if err != nil {
		return nil, err
	}
	return &model.Submission{
		SubmissionID: id,
		SubmitterID:  s.id,
		Content:      fmt.Sprintf("Candidate insight %d from submitter %d.", n, s.id),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *Submitter) NotifyAccepted(context.Context) error {
	s.mu.Lock()
	s.accepted++
	s.mu.Unlock()
	return nil
}

func (s *Submitter) NotifyRejected(_ context.Context, summary, _ string) error {
	s.mu.Lock()
	s.rejected = append(s.rejected, summary)
	// Keep only the most recent rejections for strategy adjustment.
	if len(s.rejected) > 5 {
		s.rejected = s.rejected[len(s.rejected)-5:]
	}
	s.mu.Unlock()
	return nil
}

func (s *Submitter) SetPaused(paused bool) {
	s.paused.Store(paused)
}

// Validator accepts every Nth submission and proposes no removals.
type Validator struct {
	acceptEvery int
	seen        atomic.Int64
}

func NewValidator(acceptEvery int) *Validator {
	if acceptEvery <= 0 {
		acceptEvery = 2
	}
	return &Validator{acceptEvery: acceptEvery}
}

func (v *Validator) JudgeBatch(ctx context.Context, subs []model.Submission) ([]model.ValidationResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	results := make([]model.ValidationResult, len(subs))
	for i := range subs {
		n := v.seen.Add(1)
		if n%int64(v.acceptEvery) == 0 {
			results[i] = model.ValidationResult{
				Decision:  model.DecisionAccept,
				Reasoning: "meets the acceptance bar",
				Summary:   "accepted",
			}
		} else {
			results[i] = model.ValidationResult{
				Decision:  model.DecisionReject,
				Reasoning: "does not add new information",
				Summary:   "redundant with prior submissions",
			}
		}
	}
	return results, nil
}

func (v *Validator) ProposeRemoval(context.Context) (*model.RemovalProposal, error) {
	return nil, nil
}

func (v *Validator) ValidateRemoval(context.Context, int, string, string) (bool, error) {
	return false, nil
}

// Index discards batches after a short delay, standing in for the real
// re-indexable store.
type Index struct {
	mu      sync.Mutex
	batches int
}

func NewIndex() *Index { return &Index{} }

func (ix *Index) AppendBatch(ctx context.Context, _ string, _ string, _ int) error {
	timer := time.NewTimer(50 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	ix.mu.Lock()
	ix.batches++
	ix.mu.Unlock()
	return nil
}

// Batches reports how many batches were appended.
func (ix *Index) Batches() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.batches
}

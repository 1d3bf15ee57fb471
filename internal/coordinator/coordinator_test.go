package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/refinery/internal/events"
	"github.com/msageha/refinery/internal/model"
	"github.com/msageha/refinery/internal/store"
)

// fakeSubmitter produces scripted contents, then (nil, nil) forever.
type fakeSubmitter struct {
	id int

	mu         sync.Mutex
	contents   []string
	next       int
	accepted   int
	rejections []string
	pauseCalls []bool
}

func (f *fakeSubmitter) ID() int { return f.id }

func (f *fakeSubmitter) Generate(ctx context.Context) (*model.Submission, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.contents) {
		return nil, nil
	}
	content := f.contents[f.next]
	f.next++
	return &model.Submission{
		SubmissionID: fmt.Sprintf("sub%d_%d", f.id, f.next),
		SubmitterID:  f.id,
		Content:      content,
		CreatedAt:    time.Now(),
	}, nil
}

func (f *fakeSubmitter) NotifyAccepted(context.Context) error {
	f.mu.Lock()
	f.accepted++
	f.mu.Unlock()
	return nil
}

func (f *fakeSubmitter) NotifyRejected(_ context.Context, summary, _ string) error {
	f.mu.Lock()
	f.rejections = append(f.rejections, summary)
	f.mu.Unlock()
	return nil
}

func (f *fakeSubmitter) SetPaused(paused bool) {
	f.mu.Lock()
	f.pauseCalls = append(f.pauseCalls, paused)
	f.mu.Unlock()
}

func (f *fakeSubmitter) acceptedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func (f *fakeSubmitter) pauseHistory() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.pauseCalls))
	copy(out, f.pauseCalls)
	return out
}

// fakeValidator delegates to optional function fields; the zero value
// accepts everything and never proposes removals.
type fakeValidator struct {
	judge    func(ctx context.Context, subs []model.Submission) ([]model.ValidationResult, error)
	propose  func(ctx context.Context) (*model.RemovalProposal, error)
	validate func(ctx context.Context, number int, content, reasoning string) (bool, error)
}

func (f *fakeValidator) JudgeBatch(ctx context.Context, subs []model.Submission) ([]model.ValidationResult, error) {
	if f.judge != nil {
		return f.judge(ctx, subs)
	}
	results := make([]model.ValidationResult, len(subs))
	for i := range results {
		results[i] = model.ValidationResult{Decision: model.DecisionAccept, Reasoning: "good"}
	}
	return results, nil
}

func (f *fakeValidator) ProposeRemoval(ctx context.Context) (*model.RemovalProposal, error) {
	if f.propose != nil {
		return f.propose(ctx)
	}
	return nil, nil
}

func (f *fakeValidator) ValidateRemoval(ctx context.Context, number int, content, reasoning string) (bool, error) {
	if f.validate != nil {
		return f.validate(ctx, number, content, reasoning)
	}
	return false, nil
}

func testConfig(models ...string) model.Config {
	cfg := model.Config{}
	for i, m := range models[:len(models)-1] {
		cfg.Submitters = append(cfg.Submitters, model.SubmitterConfig{
			SubmitterID: i + 1,
			ModelID:     m,
			Provider:    "lm_studio",
		})
	}
	cfg.Validator = model.ValidatorConfig{ModelID: models[len(models)-1], Provider: "lm_studio"}
	cfg.Daemon.SkipStatsLoad = true
	return cfg
}

func newTestCoordinator(t *testing.T, cfg model.Config, validator Validator, submitters ...Submitter) *Coordinator {
	t.Helper()

	rs, err := store.OpenResultStore(filepath.Join(t.TempDir(), "accepted.txt"), nil)
	require.NoError(t, err)

	bus := events.NewBus(10)
	t.Cleanup(bus.Close)

	c, err := New(cfg, Deps{
		Submitters: submitters,
		Validator:  validator,
		Store:      rs,
		Bus:        bus,
	})
	require.NoError(t, err)
	return c
}

func acceptFirst(n int) func(ctx context.Context, subs []model.Submission) ([]model.ValidationResult, error) {
	judged := 0
	var mu sync.Mutex
	return func(_ context.Context, subs []model.Submission) ([]model.ValidationResult, error) {
		mu.Lock()
		defer mu.Unlock()
		results := make([]model.ValidationResult, len(subs))
		for i := range subs {
			judged++
			if judged <= n {
				results[i] = model.ValidationResult{Decision: model.DecisionAccept, Reasoning: "good"}
			} else {
				results[i] = model.ValidationResult{Decision: model.DecisionReject, Summary: "redundant"}
			}
		}
		return results, nil
	}
}

func TestNew_ModeSelection(t *testing.T) {
	tests := []struct {
		name   string
		models []string // submitter models then validator model
		want   model.Mode
	}{
		{"single shared model", []string{"qwen3-14b", "qwen3-14b", "qwen3-14b"}, model.ModeSequential},
		{"one submitter same as validator", []string{"qwen3-14b", "qwen3-14b"}, model.ModeSequential},
		{"distinct submitter models", []string{"qwen3-14b", "llama-3-8b", "qwen3-14b"}, model.ModeParallel},
		{"validator differs", []string{"qwen3-14b", "qwen3-14b", "qwen3-32b"}, model.ModeParallel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.models...)
			var subs []Submitter
			for i := range tt.models[:len(tt.models)-1] {
				subs = append(subs, &fakeSubmitter{id: i + 1})
			}
			c := newTestCoordinator(t, cfg, &fakeValidator{}, subs...)
			assert.Equal(t, tt.want, c.Mode())
		})
	}
}

func TestNew_RejectsInvalidSetups(t *testing.T) {
	rs, err := store.OpenResultStore(filepath.Join(t.TempDir(), "accepted.txt"), nil)
	require.NoError(t, err)
	bus := events.NewBus(10)
	defer bus.Close()

	// No submitters.
	_, err = New(testConfig("m"), Deps{Validator: &fakeValidator{}, Store: rs, Bus: bus})
	assert.Error(t, err)

	// Config entry count does not match submitter count.
	cfg := testConfig("m", "m", "m")
	_, err = New(cfg, Deps{
		Submitters: []Submitter{&fakeSubmitter{id: 1}},
		Validator:  &fakeValidator{},
		Store:      rs,
		Bus:        bus,
	})
	assert.Error(t, err)

	// Missing validator.
	_, err = New(testConfig("m", "m"), Deps{
		Submitters: []Submitter{&fakeSubmitter{id: 1}},
		Store:      rs,
		Bus:        bus,
	})
	assert.Error(t, err)
}

func TestJudgeBatch_AppliesOutcomes(t *testing.T) {
	sub := &fakeSubmitter{id: 1}
	cfg := testConfig("m", "m")
	c := newTestCoordinator(t, cfg, &fakeValidator{judge: acceptFirst(1)}, sub)

	batch := []model.Submission{
		{SubmissionID: "sub1_1", SubmitterID: 1, Content: "kept"},
		{SubmissionID: "sub1_2", SubmitterID: 1, Content: "dropped"},
	}
	require.NoError(t, c.judgeBatch(context.Background(), batch))

	counters := c.Counters()
	assert.Equal(t, 1, counters.TotalAcceptances)
	assert.Equal(t, 1, counters.TotalRejections)
	assert.Equal(t, 1, c.store.Count())
	assert.Equal(t, 1, sub.acceptedCount())

	sub.mu.Lock()
	rejections := len(sub.rejections)
	sub.mu.Unlock()
	assert.Equal(t, 1, rejections)
}

func TestJudgeBatch_ResultCountMismatch(t *testing.T) {
	validator := &fakeValidator{
		judge: func(context.Context, []model.Submission) ([]model.ValidationResult, error) {
			return []model.ValidationResult{{Decision: model.DecisionAccept}}, nil
		},
	}
	c := newTestCoordinator(t, testConfig("m", "m"), validator, &fakeSubmitter{id: 1})

	batch := []model.Submission{
		{SubmissionID: "sub1_1", SubmitterID: 1},
		{SubmissionID: "sub1_2", SubmitterID: 1},
	}
	err := c.judgeBatch(context.Background(), batch)
	require.Error(t, err)

	// A malformed judgment applies no outcomes.
	counters := c.Counters()
	assert.Zero(t, counters.TotalAcceptances)
	assert.Zero(t, counters.TotalRejections)
}

func TestCleanupReview_TriggersEverySeventhAcceptance(t *testing.T) {
	proposals := 0
	var mu sync.Mutex
	validator := &fakeValidator{
		propose: func(context.Context) (*model.RemovalProposal, error) {
			mu.Lock()
			proposals++
			mu.Unlock()
			return nil, nil
		},
	}
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), validator, sub)

	ctx := context.Background()
	for i := 1; i <= 14; i++ {
		batch := []model.Submission{{SubmissionID: fmt.Sprintf("sub1_%d", i), SubmitterID: 1, Content: fmt.Sprintf("c%d", i)}}
		require.NoError(t, c.judgeBatch(ctx, batch))
	}

	counters := c.Counters()
	assert.Equal(t, 14, counters.TotalAcceptances)
	assert.Equal(t, 2, counters.CleanupReviewsPerformed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, proposals)
}

func TestCleanupReview_NoRemovalNeeded(t *testing.T) {
	validator := &fakeValidator{} // never proposes
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), validator, sub)

	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		batch := []model.Submission{{SubmissionID: fmt.Sprintf("sub1_%d", i), SubmitterID: 1, Content: fmt.Sprintf("c%d", i)}}
		require.NoError(t, c.judgeBatch(ctx, batch))
	}

	counters := c.Counters()
	assert.Equal(t, 1, counters.CleanupReviewsPerformed)
	assert.Zero(t, counters.RemovalsProposed)
	assert.Zero(t, counters.RemovalsExecuted)
	assert.Equal(t, 7, c.store.Count())
}

func TestCleanupReview_ExecutesValidatedRemoval(t *testing.T) {
	validator := &fakeValidator{
		propose: func(context.Context) (*model.RemovalProposal, error) {
			return &model.RemovalProposal{SubmissionNumber: 3, Reasoning: "superseded by later entries"}, nil
		},
		validate: func(_ context.Context, number int, content, _ string) (bool, error) {
			return number == 3 && content != "", nil
		},
	}
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), validator, sub)

	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		batch := []model.Submission{{SubmissionID: fmt.Sprintf("sub1_%d", i), SubmitterID: 1, Content: fmt.Sprintf("c%d", i)}}
		require.NoError(t, c.judgeBatch(ctx, batch))
	}

	counters := c.Counters()
	assert.Equal(t, 1, counters.CleanupReviewsPerformed)
	assert.Equal(t, 1, counters.RemovalsProposed)
	assert.Equal(t, 1, counters.RemovalsExecuted)
	assert.Equal(t, 6, c.store.Count())

	_, found := c.store.GetByNumber(3)
	assert.False(t, found)
}

func TestCleanupReview_RemovalNotValidated(t *testing.T) {
	validator := &fakeValidator{
		propose: func(context.Context) (*model.RemovalProposal, error) {
			return &model.RemovalProposal{SubmissionNumber: 1, Reasoning: "looks redundant"}, nil
		},
		validate: func(context.Context, int, string, string) (bool, error) {
			return false, nil
		},
	}
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), validator, sub)

	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		batch := []model.Submission{{SubmissionID: fmt.Sprintf("sub1_%d", i), SubmitterID: 1, Content: fmt.Sprintf("c%d", i)}}
		require.NoError(t, c.judgeBatch(ctx, batch))
	}

	counters := c.Counters()
	assert.Equal(t, 1, counters.RemovalsProposed)
	assert.Zero(t, counters.RemovalsExecuted)
	assert.Equal(t, 7, c.store.Count())
}

func TestCleanupReview_ProposalForMissingSubmission(t *testing.T) {
	validator := &fakeValidator{
		propose: func(context.Context) (*model.RemovalProposal, error) {
			return &model.RemovalProposal{SubmissionNumber: 99, Reasoning: "phantom"}, nil
		},
	}
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), validator, sub)

	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		batch := []model.Submission{{SubmissionID: fmt.Sprintf("sub1_%d", i), SubmitterID: 1, Content: fmt.Sprintf("c%d", i)}}
		require.NoError(t, c.judgeBatch(ctx, batch))
	}

	counters := c.Counters()
	assert.Equal(t, 1, counters.RemovalsProposed)
	assert.Zero(t, counters.RemovalsExecuted)
	assert.Equal(t, 7, c.store.Count())
}

func TestCleanupReview_ProposalError(t *testing.T) {
	validator := &fakeValidator{
		propose: func(context.Context) (*model.RemovalProposal, error) {
			return nil, fmt.Errorf("backend unavailable")
		},
	}
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), validator, sub)

	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		batch := []model.Submission{{SubmissionID: fmt.Sprintf("sub1_%d", i), SubmitterID: 1, Content: fmt.Sprintf("c%d", i)}}
		require.NoError(t, c.judgeBatch(ctx, batch))
	}

	// The review counted, the failure aborted only this pass.
	counters := c.Counters()
	assert.Equal(t, 1, counters.CleanupReviewsPerformed)
	assert.Zero(t, counters.RemovalsProposed)
	assert.Equal(t, 7, c.store.Count())
}

func TestUpdatePauseState_Hysteresis(t *testing.T) {
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), &fakeValidator{}, sub)

	for i := 0; i < 10; i++ {
		c.queue.Enqueue(model.Submission{SubmissionID: fmt.Sprintf("s%d", i), SubmitterID: 1})
	}

	c.updatePauseState()
	assert.True(t, c.isPaused())
	assert.Equal(t, []bool{true}, sub.pauseHistory())

	// No transition, no repeated broadcast.
	c.updatePauseState()
	assert.Equal(t, []bool{true}, sub.pauseHistory())

	// Draining a batch drops the size below the threshold.
	c.queue.DequeueBatch(3)
	c.updatePauseState()
	assert.False(t, c.isPaused())
	assert.Equal(t, []bool{true, false}, sub.pauseHistory())
}

func TestStartStop_Idempotent(t *testing.T) {
	sub := &fakeSubmitter{id: 1, contents: []string{"one"}}
	c := newTestCoordinator(t, testConfig("m", "m"), &fakeValidator{}, sub)

	c.Start()
	c.Start() // second start is a no-op
	assert.True(t, c.IsRunning())

	c.Stop()
	assert.False(t, c.IsRunning())
	c.Stop() // second stop is a no-op
}

func TestSequentialLoop_EndToEnd(t *testing.T) {
	sub1 := &fakeSubmitter{id: 1, contents: []string{"insight a"}}
	sub2 := &fakeSubmitter{id: 2, contents: []string{"insight b"}}
	c := newTestCoordinator(t, testConfig("m", "m", "m"), &fakeValidator{}, sub1, sub2)
	require.Equal(t, model.ModeSequential, c.Mode())

	c.Start()
	defer c.Stop()

	deadline := time.After(3 * time.Second)
	for c.Counters().TotalAcceptances < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for acceptances, counters=%+v", c.Counters())
		case <-time.After(10 * time.Millisecond):
		}
	}

	counters := c.Counters()
	assert.Equal(t, 2, counters.TotalSubmissions)
	assert.Equal(t, 2, counters.TotalAcceptances)
	assert.Equal(t, 2, c.store.Count())
	assert.Equal(t, 1, sub1.acceptedCount())
	assert.Equal(t, 1, sub2.acceptedCount())
}

func TestParallelLoop_EndToEnd(t *testing.T) {
	sub1 := &fakeSubmitter{id: 1, contents: []string{"from fast model"}}
	sub2 := &fakeSubmitter{id: 2, contents: []string{"from slow model"}}
	c := newTestCoordinator(t, testConfig("model-a", "model-b", "model-c"), &fakeValidator{}, sub1, sub2)
	require.Equal(t, model.ModeParallel, c.Mode())

	c.Start()
	defer c.Stop()

	deadline := time.After(3 * time.Second)
	for c.Counters().TotalAcceptances < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for acceptances, counters=%+v", c.Counters())
		case <-time.After(10 * time.Millisecond):
		}
	}

	assert.Equal(t, 2, c.store.Count())
}

func TestClearAll_ResetsEverything(t *testing.T) {
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), &fakeValidator{}, sub)

	batch := []model.Submission{{SubmissionID: "sub1_1", SubmitterID: 1, Content: "kept"}}
	require.NoError(t, c.judgeBatch(context.Background(), batch))
	c.queue.Enqueue(model.Submission{SubmissionID: "sub1_2", SubmitterID: 1})

	require.NoError(t, c.ClearAll())

	assert.Zero(t, c.store.Count())
	assert.Zero(t, c.queue.Size())
	assert.Equal(t, model.SessionCounters{}, c.Counters())
}

func TestStatus_Snapshot(t *testing.T) {
	sub := &fakeSubmitter{id: 1}
	c := newTestCoordinator(t, testConfig("m", "m"), &fakeValidator{judge: acceptFirst(1)}, sub)

	batch := []model.Submission{
		{SubmissionID: "sub1_1", SubmitterID: 1, Content: "kept"},
		{SubmissionID: "sub1_2", SubmitterID: 1, Content: "dropped"},
	}
	c.countersMu.Lock()
	c.counters.TotalSubmissions = 2
	c.countersMu.Unlock()
	require.NoError(t, c.judgeBatch(context.Background(), batch))

	st := c.Status()
	assert.False(t, st.IsRunning)
	assert.Equal(t, model.ModeSequential, st.Mode)
	assert.Equal(t, 2, st.Counters.TotalSubmissions)
	assert.InDelta(t, 0.5, st.AcceptanceRate, 1e-9)
	assert.Equal(t, 1, st.StoreCount)
}

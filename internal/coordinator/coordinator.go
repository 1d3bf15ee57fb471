// Package coordinator implements the orchestration core: mode selection,
// the submitter/validator scheduling loops, backpressure, outcome
// application, cleanup reviews, and the background re-index trigger.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/refinery/internal/events"
	"github.com/msageha/refinery/internal/model"
	"github.com/msageha/refinery/internal/queue"
	"github.com/msageha/refinery/internal/store"
	"github.com/msageha/refinery/internal/workflow"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Submitter is a content-producing worker. Generate may legitimately
// return (nil, nil) when no submission was produced.
type Submitter interface {
	ID() int
	Generate(ctx context.Context) (*model.Submission, error)
	NotifyAccepted(ctx context.Context) error
	NotifyRejected(ctx context.Context, summary, content string) error
	SetPaused(paused bool)
}

// Validator judges submissions and drives cleanup reviews. JudgeBatch
// returns one result per submission, same order. ProposeRemoval returns
// (nil, nil) when no removal is needed.
type Validator interface {
	JudgeBatch(ctx context.Context, subs []model.Submission) ([]model.ValidationResult, error)
	ProposeRemoval(ctx context.Context) (*model.RemovalProposal, error)
	ValidateRemoval(ctx context.Context, number int, content, reasoning string) (bool, error)
}

// ResultStore is the accepted-results store the coordinator and the
// reindexer mutate.
type ResultStore interface {
	Append(content string) (int, error)
	GetByNumber(number int) (string, bool)
	Remove(number int) (bool, error)
	Count() int
	Unragged() []store.Entry
	MarkRagged(count int)
	Clear() error
}

// Index is the incrementally rebuilt external index.
type Index interface {
	AppendBatch(ctx context.Context, content, label string, chunkSize int) error
}

// Deps bundles the collaborators the coordinator is constructed with.
// Bus is required; EventLog, StatsFile, and Boost are optional.
type Deps struct {
	Submitters []Submitter
	Validator  Validator
	Store      ResultStore
	Index      Index
	Bus        *events.Bus
	EventLog   *store.EventLog
	StatsFile  *store.StatsFile
	Boost      *workflow.BoostRouter
	Logger     *log.Logger
}

// Coordinator is the top-level state machine: Idle until Start, Running
// in one of two modes, Stopped after Stop. Start and Stop are idempotent.
type Coordinator struct {
	cfg    model.Config
	mode   model.Mode
	logger *log.Logger
	level  LogLevel

	submitters []Submitter
	validator  Validator
	queue      *queue.SubmissionQueue
	store      ResultStore
	reindexer  *Reindexer
	bus        *events.Bus
	eventLog   *store.EventLog
	statsFile  *store.StatsFile
	boost      *workflow.BoostRouter

	countersMu sync.Mutex
	counters   model.SessionCounters

	pauseMu sync.Mutex
	paused  bool

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	trackMu       sync.Mutex
	tasks         []model.WorkflowTask
	currentTaskID string
	submitterSeqs map[int]int
	validatorSeq  int
}

// New builds a coordinator, selects the scheduling mode, and loads
// persisted counters unless the config skips that.
//
// Mode selection compares the set of distinct model references across
// all submitters and the validator: exactly one distinct reference means
// every worker shares a single-capacity backend, so Sequential is chosen
// to keep them from starving each other; otherwise Parallel.
func New(cfg model.Config, deps Deps) (*Coordinator, error) {
	cfg.ApplyDefaults()

	n := len(deps.Submitters)
	if n < model.MinSubmitters || n > model.MaxSubmitters {
		return nil, fmt.Errorf("submitter count must be %d-%d, got %d",
			model.MinSubmitters, model.MaxSubmitters, n)
	}
	if len(cfg.Submitters) != n {
		return nil, fmt.Errorf("config has %d submitter entries for %d submitters",
			len(cfg.Submitters), n)
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	refs := make(map[string]bool)
	for _, sc := range cfg.Submitters {
		refs[sc.ModelID] = true
	}
	refs[cfg.Validator.ModelID] = true

	mode := model.ModeParallel
	if len(refs) == 1 {
		mode = model.ModeSequential
	}

	c := &Coordinator{
		cfg:           cfg,
		mode:          mode,
		logger:        deps.Logger,
		level:         ParseLogLevel(cfg.Logging.Level),
		submitters:    deps.Submitters,
		validator:     deps.Validator,
		queue:         queue.New(cfg.Queue.OverflowThreshold, deps.Logger),
		store:         deps.Store,
		bus:           deps.Bus,
		eventLog:      deps.EventLog,
		statsFile:     deps.StatsFile,
		boost:         deps.Boost,
		submitterSeqs: make(map[int]int),
	}
	c.reindexer = NewReindexer(deps.Store, deps.Index, deps.Bus, cfg.Reindex.ChunkSizes, deps.Logger, c.level)

	if mode == model.ModeSequential {
		c.log(LogLevelInfo, "single-model mode enabled: all %d submitters and validator use %q", n, cfg.Validator.ModelID)
	} else {
		c.log(LogLevelInfo, "multi-model mode: %d submitters run in parallel, validator runs independently", n)
	}

	if c.statsFile != nil && !cfg.Daemon.SkipStatsLoad {
		counters, err := c.statsFile.Load()
		if err != nil {
			c.log(LogLevelError, "load stats failed: %v", err)
		} else {
			c.counters = counters
			c.log(LogLevelInfo, "loaded persisted stats acceptances=%d rejections=%d",
				counters.TotalAcceptances, counters.TotalRejections)
		}
	}

	c.RefreshPredictions()
	return c, nil
}

// Mode returns the selected scheduling mode.
func (c *Coordinator) Mode() model.Mode {
	return c.mode
}

// Queue exposes the submission queue for collaborators that push into it.
func (c *Coordinator) Queue() *queue.SubmissionQueue {
	return c.queue
}

// Reindexer exposes the background re-index trigger.
func (c *Coordinator) Reindexer() *Reindexer {
	return c.reindexer
}

// Start launches the mode-appropriate loops. No-op when already running.
func (c *Coordinator) Start() {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		c.log(LogLevelWarn, "coordinator already running")
		return
	}
	c.running = true

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	c.cancel = cancel
	c.group = g

	if c.mode == model.ModeSequential {
		c.log(LogLevelInfo, "starting single-model workflow (sequential submitters + validator)")
		g.Go(func() error { return c.sequentialLoop(gctx) })
	} else {
		c.log(LogLevelInfo, "starting multi-model workflow (parallel submitters)")
		for _, s := range c.submitters {
			s := s
			g.Go(func() error { return c.submitterLoop(gctx, s) })
		}
		g.Go(func() error { return c.validatorLoop(gctx) })
	}
	c.runMu.Unlock()

	c.RefreshPredictions()
	c.bus.Publish(events.EventSystemStarted, map[string]interface{}{
		"mode": string(c.mode),
	})
	c.log(LogLevelInfo, "coordinator started")
}

// Stop cancels the mode loops and the in-flight re-index task and awaits
// their termination. Unlike the fire-and-forget replacement inside the
// reindexer, shutdown must be deterministic. No-op when not running.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	group := c.group
	c.runMu.Unlock()

	c.log(LogLevelInfo, "stopping coordinator")
	cancel()
	if err := group.Wait(); err != nil && err != context.Canceled {
		c.log(LogLevelError, "mode loop exited with error: %v", err)
	}

	timeout := time.Duration(c.cfg.Daemon.ShutdownTimeoutSec) * time.Second
	c.reindexer.Shutdown(timeout)

	c.bus.Publish(events.EventSystemStopped, map[string]interface{}{
		"mode": string(c.mode),
	})
	c.log(LogLevelInfo, "coordinator stopped")
}

// IsRunning reports whether the mode loops are live.
func (c *Coordinator) IsRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

// AddSubmission enqueues a submission and counts it. Called by the
// coordinator's own loops and, in parallel mode, by submitter
// collaborators pushing spontaneously.
func (c *Coordinator) AddSubmission(sub model.Submission) {
	c.queue.Enqueue(sub)

	c.countersMu.Lock()
	c.counters.TotalSubmissions++
	c.countersMu.Unlock()

	c.bus.Publish(events.EventNewSubmission, map[string]interface{}{
		"submission_id": sub.SubmissionID,
		"submitter_id":  sub.SubmitterID,
		"queue_size":    c.queue.Size(),
	})
}

// sequentialLoop is the round-based workflow for single-model mode: each
// submitter generates one submission in fixed order, then the validator
// drains the queue in batches before the next round begins.
func (c *Coordinator) sequentialLoop(ctx context.Context) error {
	c.log(LogLevelInfo, "sequential workflow started (round-based)")
	round := 0

	for {
		if ctx.Err() != nil {
			c.log(LogLevelInfo, "sequential workflow cancelled at round %d", round)
			return nil
		}
		round++

		generated := 0
		for _, s := range c.submitters {
			if ctx.Err() != nil {
				return nil
			}
			sub, err := c.generateOne(ctx, s)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.log(LogLevelError, "round=%d submitter=%d generate failed: %v", round, s.ID(), err)
				continue
			}
			if sub != nil {
				c.AddSubmission(*sub)
				generated++
			}
		}

		c.log(LogLevelDebug, "round=%d submitters complete generated=%d, validating", round, generated)

		validated := 0
		for ctx.Err() == nil {
			c.updatePauseState()
			batch := c.queue.DequeueBatch(c.cfg.Queue.BatchSize)
			if len(batch) == 0 {
				break
			}
			if err := c.judgeBatch(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.log(LogLevelError, "round=%d batch validation failed: %v", round, err)
				c.sleep(ctx, c.errorBackoff())
				continue
			}
			validated += len(batch)
		}
		c.updatePauseState()

		c.log(LogLevelInfo, "round=%d complete generated=%d validated=%d", round, generated, validated)
		c.sleep(ctx, c.idleDelay())
	}
}

// submitterLoop runs one submitter continuously in parallel mode.
func (c *Coordinator) submitterLoop(ctx context.Context, s Submitter) error {
	c.log(LogLevelInfo, "submitter loop started id=%d", s.ID())

	for {
		if ctx.Err() != nil {
			c.log(LogLevelInfo, "submitter loop cancelled id=%d", s.ID())
			return nil
		}

		if c.isPaused() {
			c.sleep(ctx, c.idleDelay())
			continue
		}

		sub, err := c.generateOne(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log(LogLevelError, "submitter=%d generate failed: %v", s.ID(), err)
			c.sleep(ctx, c.errorBackoff())
			continue
		}
		if sub == nil {
			c.sleep(ctx, c.idleDelay())
			continue
		}
		c.AddSubmission(*sub)
	}
}

// validatorLoop continuously drains the queue in batches in parallel mode.
func (c *Coordinator) validatorLoop(ctx context.Context) error {
	c.log(LogLevelInfo, "validator loop started (batch mode: up to %d)", c.cfg.Queue.BatchSize)
	iteration := 0

	for {
		if ctx.Err() != nil {
			c.log(LogLevelInfo, "validator loop cancelled at iteration %d", iteration)
			return nil
		}
		iteration++

		c.updatePauseState()
		batch := c.queue.DequeueBatch(c.cfg.Queue.BatchSize)
		if len(batch) == 0 {
			c.sleep(ctx, c.idleDelay())
			continue
		}

		if err := c.judgeBatch(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log(LogLevelError, "validator iteration=%d failed: %v", iteration, err)
			c.sleep(ctx, c.errorBackoff())
		}
		c.updatePauseState()
	}
}

// generateOne requests a single submission from s, tracking the task
// identity for workflow predictions.
func (c *Coordinator) generateOne(ctx context.Context, s Submitter) (*model.Submission, error) {
	taskID := c.nextSubmitterTaskID(s.ID())
	c.markTaskStarted(taskID)

	sub, err := s.Generate(ctx)
	if err != nil {
		return nil, err
	}

	c.markTaskCompleted(taskID)
	return sub, nil
}

// judgeBatch validates a batch and applies the outcomes. A judgment is
// final: no retries of judged submissions.
func (c *Coordinator) judgeBatch(ctx context.Context, batch []model.Submission) error {
	taskID := c.nextValidatorTaskID()
	c.markTaskStarted(taskID)

	results, err := c.validator.JudgeBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("judge batch: %w", err)
	}
	if len(results) != len(batch) {
		return fmt.Errorf("judge batch: got %d results for %d submissions", len(results), len(batch))
	}
	c.markTaskCompleted(taskID)

	for i, sub := range batch {
		if results[i].Decision == model.DecisionAccept {
			c.handleAcceptance(ctx, sub, results[i])
		} else {
			c.handleRejection(ctx, sub, results[i])
		}
	}
	return nil
}

func (c *Coordinator) handleAcceptance(ctx context.Context, sub model.Submission, result model.ValidationResult) {
	c.countersMu.Lock()
	c.counters.TotalAcceptances++
	acceptances := c.counters.TotalAcceptances
	c.countersMu.Unlock()

	if _, err := c.store.Append(sub.Content); err != nil {
		c.log(LogLevelError, "store accepted submission: %v", err)
	}
	c.reindexer.OnStoreUpdated()

	if s := c.submitterByID(sub.SubmitterID); s != nil {
		if err := s.NotifyAccepted(ctx); err != nil {
			c.log(LogLevelWarn, "notify acceptance submitter=%d: %v", sub.SubmitterID, err)
		}
	}

	c.bus.Publish(events.EventSubmissionAccepted, map[string]interface{}{
		"submission_id":     sub.SubmissionID,
		"submitter_id":      sub.SubmitterID,
		"submitter_model":   c.submitterModel(sub.SubmitterID),
		"content":           sub.Content,
		"reasoning":         result.Reasoning,
		"total_acceptances": acceptances,
		"validator_model":   c.cfg.Validator.ModelID,
	})
	c.log(LogLevelInfo, "accepted submission submitter=%d total=%d", sub.SubmitterID, acceptances)

	c.addLogEvent("submission_accepted",
		fmt.Sprintf("Submission from Submitter %d ACCEPTED (#%d)", sub.SubmitterID, acceptances),
		map[string]interface{}{"submitter_id": sub.SubmitterID, "total_acceptances": acceptances})

	c.saveStats()

	if acceptances%c.cfg.Cleanup.AcceptanceInterval == 0 {
		c.performCleanupReview(ctx)
	}
}

func (c *Coordinator) handleRejection(ctx context.Context, sub model.Submission, result model.ValidationResult) {
	c.countersMu.Lock()
	c.counters.TotalRejections++
	rejections := c.counters.TotalRejections
	c.countersMu.Unlock()

	if s := c.submitterByID(sub.SubmitterID); s != nil {
		if err := s.NotifyRejected(ctx, result.Summary, sub.Content); err != nil {
			c.log(LogLevelWarn, "notify rejection submitter=%d: %v", sub.SubmitterID, err)
		}
	}

	c.bus.Publish(events.EventSubmissionRejected, map[string]interface{}{
		"submission_id":    sub.SubmissionID,
		"submitter_id":     sub.SubmitterID,
		"submitter_model":  c.submitterModel(sub.SubmitterID),
		"reasoning":        result.Reasoning,
		"total_rejections": rejections,
		"validator_model":  c.cfg.Validator.ModelID,
	})
	c.log(LogLevelInfo, "rejected submission submitter=%d total=%d", sub.SubmitterID, rejections)

	reason := result.Summary
	if reason == "" {
		reason = result.Reasoning
	}
	if len(reason) > 200 {
		reason = reason[:200]
	}
	c.addLogEvent("submission_rejected",
		fmt.Sprintf("Submission from Submitter %d REJECTED: %s", sub.SubmitterID, reason),
		map[string]interface{}{"submitter_id": sub.SubmitterID, "total_rejections": rejections})

	c.saveStats()
}

// updatePauseState flips the shared pause flag with hysteresis at the
// overflow threshold, broadcasting only on transition.
func (c *Coordinator) updatePauseState() {
	size := c.queue.Size()
	shouldPause := size >= c.cfg.Queue.OverflowThreshold

	c.pauseMu.Lock()
	changed := shouldPause != c.paused
	if changed {
		c.paused = shouldPause
	}
	c.pauseMu.Unlock()

	if !changed {
		return
	}

	for _, s := range c.submitters {
		s.SetPaused(shouldPause)
	}

	if shouldPause {
		c.log(LogLevelWarn, "queue_size=%d >= threshold=%d, pausing submitters", size, c.cfg.Queue.OverflowThreshold)
		c.bus.Publish(events.EventSubmittersPaused, map[string]interface{}{
			"queue_size": size,
			"threshold":  c.cfg.Queue.OverflowThreshold,
		})
	} else {
		c.log(LogLevelInfo, "queue_size=%d < threshold=%d, resuming submitters", size, c.cfg.Queue.OverflowThreshold)
		c.bus.Publish(events.EventSubmittersResumed, map[string]interface{}{
			"queue_size": size,
		})
	}
}

func (c *Coordinator) isPaused() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.paused
}

// Status returns a point-in-time snapshot.
func (c *Coordinator) Status() model.SystemStatus {
	c.countersMu.Lock()
	counters := c.counters
	c.countersMu.Unlock()

	rate := 0.0
	if counters.TotalSubmissions > 0 {
		rate = float64(counters.TotalAcceptances) / float64(counters.TotalSubmissions)
	}

	return model.SystemStatus{
		IsRunning:      c.IsRunning(),
		Mode:           c.mode,
		QueueSize:      c.queue.Size(),
		Counters:       counters,
		AcceptanceRate: rate,
		StoreCount:     c.store.Count(),
	}
}

// Counters returns a copy of the session counters.
func (c *Coordinator) Counters() model.SessionCounters {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	return c.counters
}

// Results returns the plain accepted content, and FormattedResults the
// export layout.
func (c *Coordinator) Results() string {
	type plain interface{ AllContent() string }
	if s, ok := c.store.(plain); ok {
		return s.AllContent()
	}
	return ""
}

func (c *Coordinator) FormattedResults() string {
	type formatted interface{ FormattedContent() string }
	if s, ok := c.store.(formatted); ok {
		return s.FormattedContent()
	}
	return ""
}

// ClearAll stops the system if running, clears the store, queue, and
// event log, and zeroes the persisted counters.
func (c *Coordinator) ClearAll() error {
	c.log(LogLevelInfo, "clearing all accepted submissions and resetting")

	if c.IsRunning() {
		c.Stop()
	}

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	c.queue.Clear()

	if c.eventLog != nil {
		if err := c.eventLog.Clear(); err != nil {
			c.log(LogLevelError, "clear event log: %v", err)
		}
	}

	c.countersMu.Lock()
	c.counters = model.SessionCounters{}
	c.countersMu.Unlock()
	c.saveStats()

	c.bus.Publish(events.EventSystemReset, map[string]interface{}{
		"message": "all submissions cleared",
	})
	return nil
}

// saveStats persists the counters; a failure is logged and the in-memory
// state remains authoritative.
func (c *Coordinator) saveStats() {
	if c.statsFile == nil {
		return
	}
	c.countersMu.Lock()
	counters := c.counters
	c.countersMu.Unlock()

	if err := c.statsFile.Save(counters); err != nil {
		c.log(LogLevelError, "save stats failed: %v", err)
	}
}

func (c *Coordinator) addLogEvent(eventType, message string, metadata map[string]interface{}) {
	if c.eventLog == nil {
		return
	}
	if err := c.eventLog.Add(eventType, message, metadata); err != nil {
		c.log(LogLevelError, "write event log: %v", err)
	}
}

func (c *Coordinator) submitterByID(id int) Submitter {
	for _, s := range c.submitters {
		if s.ID() == id {
			return s
		}
	}
	return nil
}

func (c *Coordinator) submitterModel(id int) string {
	for _, sc := range c.cfg.Submitters {
		if sc.SubmitterID == id {
			return sc.ModelID
		}
	}
	return ""
}

func (c *Coordinator) idleDelay() time.Duration {
	return time.Duration(c.cfg.Queue.IdleDelaySec) * time.Second
}

func (c *Coordinator) errorBackoff() time.Duration {
	return time.Duration(c.cfg.Queue.ErrorBackoffSec) * time.Second
}

// sleep waits for d or until ctx is done.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (c *Coordinator) log(level LogLevel, format string, args ...any) {
	if c.logger == nil || level < c.level {
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
	c.logger.Printf("%s %s coordinator: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

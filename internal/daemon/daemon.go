// Package daemon hosts the coordinator as a long-running process: single
// instance enforcement, data-directory watching, and signal-driven
// shutdown.
package daemon

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/refinery/internal/coordinator"
	"github.com/msageha/refinery/internal/lock"
	"github.com/msageha/refinery/internal/model"
)

const (
	StatsFileName   = "refinery_stats.yml"
	ResultsFileName = "accepted_submissions.txt"
	EventLogName    = "refinery_event_log.jsonl"
)

// Daemon wraps a coordinator with process-level concerns.
type Daemon struct {
	dataDir string
	config  model.Config
	coord   *coordinator.Coordinator
	logger  *log.Logger
	level   coordinator.LogLevel
	logFile io.Closer

	fileLock *lock.FileLock
	watcher  *fsnotify.Watcher

	done     chan struct{}
	shutdown sync.Once
	wg       sync.WaitGroup
}

// New creates a daemon around an already-constructed coordinator. The
// daemon log is appended under <dataDir>/logs/.
func New(dataDir string, cfg model.Config, coord *coordinator.Coordinator) (*Daemon, error) {
	logPath := filepath.Join(dataDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return &Daemon{
		dataDir:  dataDir,
		config:   cfg,
		coord:    coord,
		logger:   log.New(io.MultiWriter(os.Stderr, logFile), "", 0),
		level:    coordinator.ParseLogLevel(cfg.Logging.Level),
		logFile:  logFile,
		fileLock: lock.NewFileLock(filepath.Join(dataDir, "locks", "daemon.lock")),
		done:     make(chan struct{}),
	}, nil
}

// Run starts the coordinator and blocks until a shutdown signal arrives.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(filepath.Join(d.dataDir, "locks"), 0755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(coordinator.LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Watch the data directory: an external edit to the results store
	// also needs to fire the re-index trigger.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	if err := watcher.Add(d.dataDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", d.dataDir, err)
	}

	d.wg.Add(1)
	go d.fsnotifyLoop()

	d.coord.Start()
	d.log(coordinator.LogLevelInfo, "daemon ready mode=%s", d.coord.Mode())

	d.waitSignals()
	return nil
}

// fsnotifyLoop forwards results-store file changes to the reindexer.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	storePath := filepath.Join(d.dataDir, ResultsFileName)
	for {
		select {
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Name != storePath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(coordinator.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.coord.Reindexer().OnStoreUpdated()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(coordinator.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// waitSignals blocks until SIGTERM or SIGINT; a second signal forces exit.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(coordinator.LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	go func() {
		<-sigCh
		d.log(coordinator.LogLevelWarn, "received second signal, forcing exit")
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(coordinator.LogLevelInfo, "shutdown started")

		close(d.done)
		if d.watcher != nil {
			d.watcher.Close()
		}

		d.coord.Stop()

		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
		waited := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(timeout):
			d.log(coordinator.LogLevelWarn, "shutdown timeout after %s", timeout)
		}

		d.cleanup()
		d.log(coordinator.LogLevelInfo, "daemon stopped")
	})
}

func (d *Daemon) cleanup() {
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level coordinator.LogLevel, format string, args ...any) {
	if level < d.level {
		return
	}
	levelStr := "INFO"
	switch level {
	case coordinator.LogLevelDebug:
		levelStr = "DEBUG"
	case coordinator.LogLevelWarn:
		levelStr = "WARN"
	case coordinator.LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

// Package model defines the data structures for refinery's configuration,
// submissions, counters, and workflow entries.
package model

type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Submitters []SubmitterConfig `yaml:"submitters"`
	Validator  ValidatorConfig  `yaml:"validator"`
	Queue      QueueConfig      `yaml:"queue"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Reindex    ReindexConfig    `yaml:"reindex"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type SubmitterConfig struct {
	SubmitterID     int    `yaml:"submitter_id"`
	ModelID         string `yaml:"model_id"`
	Provider        string `yaml:"provider"`
	ContextWindow   int    `yaml:"context_window"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

type ValidatorConfig struct {
	ModelID         string `yaml:"model_id"`
	Provider        string `yaml:"provider"`
	ContextWindow   int    `yaml:"context_window"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

type QueueConfig struct {
	OverflowThreshold int `yaml:"overflow_threshold"`
	BatchSize         int `yaml:"batch_size"`
	IdleDelaySec      int `yaml:"idle_delay_sec"`
	ErrorBackoffSec   int `yaml:"error_backoff_sec"`
}

type CleanupConfig struct {
	AcceptanceInterval int `yaml:"acceptance_interval"`
}

type ReindexConfig struct {
	ChunkSizes []int `yaml:"chunk_sizes"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int  `yaml:"shutdown_timeout_sec"`
	SkipStatsLoad      bool `yaml:"skip_stats_load"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	MinSubmitters = 1
	MaxSubmitters = 10

	DefaultOverflowThreshold  = 10
	DefaultBatchSize          = 3
	DefaultIdleDelaySec       = 1
	DefaultErrorBackoffSec    = 2
	DefaultAcceptanceInterval = 7
	DefaultShutdownTimeoutSec = 30
)

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Queue.OverflowThreshold <= 0 {
		c.Queue.OverflowThreshold = DefaultOverflowThreshold
	}
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = DefaultBatchSize
	}
	if c.Queue.IdleDelaySec <= 0 {
		c.Queue.IdleDelaySec = DefaultIdleDelaySec
	}
	if c.Queue.ErrorBackoffSec <= 0 {
		c.Queue.ErrorBackoffSec = DefaultErrorBackoffSec
	}
	if c.Cleanup.AcceptanceInterval <= 0 {
		c.Cleanup.AcceptanceInterval = DefaultAcceptanceInterval
	}
	if len(c.Reindex.ChunkSizes) == 0 {
		c.Reindex.ChunkSizes = []int{250, 500, 1000, 2000}
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
}

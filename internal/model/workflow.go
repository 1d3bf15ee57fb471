package model

// Mode selects how submitters and the validator are scheduled.
//
// Sequential is chosen when every submitter and the validator share one
// model reference: parallel workers would contend for a single-capacity
// backend and thrash it. Parallel lets each submitter run its own loop.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// WorkflowTask is a predicted or in-flight unit of scheduled work.
// Predicted tasks are speculative and may be silently superseded by the
// next prediction refresh.
type WorkflowTask struct {
	TaskID         string `yaml:"task_id"`
	SequenceNumber int    `yaml:"sequence_number"`
	Role           string `yaml:"role"`
	Mode           string `yaml:"mode,omitempty"`
	Provider       string `yaml:"provider"`
	Active         bool   `yaml:"active"`
	Completed      bool   `yaml:"completed"`
	UsingBoost     bool   `yaml:"using_boost"`
}

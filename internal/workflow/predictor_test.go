package workflow

import (
	"testing"

	"github.com/msageha/refinery/internal/model"
)

func TestPredictSubmitterWorkflow_CycleOrder(t *testing.T) {
	tasks := PredictSubmitterWorkflow(2, model.ModeSequential, nil, 0)

	if len(tasks) != PredictionWindow {
		t.Fatalf("expected %d tasks, got %d", PredictionWindow, len(tasks))
	}

	// Cycle of 3: submitter 1, submitter 2, validator.
	wantIDs := []string{
		"agg_sub1_000", "agg_sub2_000", "agg_val_000",
		"agg_sub1_001", "agg_sub2_001", "agg_val_001",
	}
	for i, want := range wantIDs {
		if tasks[i].TaskID != want {
			t.Errorf("task %d: expected %s, got %s", i, want, tasks[i].TaskID)
		}
	}
}

func TestPredictSubmitterWorkflow_Roles(t *testing.T) {
	tasks := PredictSubmitterWorkflow(3, model.ModeParallel, nil, 0)

	if tasks[0].Role != "Submitter 1 (Main Submitter)" {
		t.Errorf("expected main submitter role, got %q", tasks[0].Role)
	}
	if tasks[1].Role != "Submitter 2" {
		t.Errorf("expected Submitter 2, got %q", tasks[1].Role)
	}
	if tasks[3].Role != "Validator" {
		t.Errorf("expected Validator at cycle end, got %q", tasks[3].Role)
	}
	for i, task := range tasks {
		if task.SequenceNumber != i+1 {
			t.Errorf("task %d: expected sequence %d, got %d", i, i+1, task.SequenceNumber)
		}
		if task.Mode != string(model.ModeParallel) {
			t.Errorf("task %d: expected parallel mode, got %s", i, task.Mode)
		}
	}
}

func TestPredictSubmitterWorkflow_ContinuesFromCounters(t *testing.T) {
	seqs := map[int]int{1: 5, 2: 4}
	tasks := PredictSubmitterWorkflow(2, model.ModeSequential, seqs, 4)

	if tasks[0].TaskID != "agg_sub1_005" {
		t.Errorf("expected agg_sub1_005, got %s", tasks[0].TaskID)
	}
	if tasks[1].TaskID != "agg_sub2_004" {
		t.Errorf("expected agg_sub2_004, got %s", tasks[1].TaskID)
	}
	if tasks[2].TaskID != "agg_val_004" {
		t.Errorf("expected agg_val_004, got %s", tasks[2].TaskID)
	}

	// Inputs must not be mutated.
	if seqs[1] != 5 || seqs[2] != 4 {
		t.Errorf("input counters mutated: %v", seqs)
	}
}

func TestPredictSubmitterWorkflow_SingleSubmitter(t *testing.T) {
	tasks := PredictSubmitterWorkflow(1, model.ModeSequential, nil, 0)

	// Alternating submitter and validator.
	for i, task := range tasks {
		wantValidator := i%2 == 1
		isValidator := RolePrefix(task.TaskID) == RolePrefixValidator
		if isValidator != wantValidator {
			t.Errorf("task %d (%s): validator=%v, want %v", i, task.TaskID, isValidator, wantValidator)
		}
	}
}

func TestTaskIDZeroPadding(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{SubmitterTaskID(1, 0), "agg_sub1_000"},
		{SubmitterTaskID(2, 42), "agg_sub2_042"},
		{SubmitterTaskID(10, 7), "agg_sub10_007"},
		{ValidatorTaskID(999), "agg_val_999"},
		{ValidatorTaskID(1000), "agg_val_1000"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, tt.got)
		}
	}
}

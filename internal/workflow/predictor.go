// Package workflow predicts upcoming task identities and decides per-task
// routing overrides.
package workflow

import (
	"fmt"

	"github.com/msageha/refinery/internal/model"
)

// PredictionWindow is how many upcoming tasks a prediction covers.
const PredictionWindow = 20

// RolePrefixValidator is the validator task-id prefix the predictor and
// boost router share.
const RolePrefixValidator = "agg_val"

// SubmitterPrefix returns the task-id prefix for a submitter slot.
func SubmitterPrefix(submitterID int) string {
	return fmt.Sprintf("agg_sub%d", submitterID)
}

// SubmitterTaskID encodes a submitter role and its per-role counter.
func SubmitterTaskID(submitterID, seq int) string {
	return fmt.Sprintf("%s_%03d", SubmitterPrefix(submitterID), seq)
}

// ValidatorTaskID encodes the validator role and its per-role counter.
func ValidatorTaskID(seq int) string {
	return fmt.Sprintf("%s_%03d", RolePrefixValidator, seq)
}

// PredictSubmitterWorkflow simulates the coordinator's own cycle order
// (S1 … SN then validator, in both modes) and returns the next
// PredictionWindow task identities without executing anything. The input
// counter maps are copied, never mutated.
func PredictSubmitterWorkflow(
	numSubmitters int,
	mode model.Mode,
	submitterSeqs map[int]int,
	validatorSeq int,
) []model.WorkflowTask {
	seqs := make(map[int]int, numSubmitters)
	for id, seq := range submitterSeqs {
		seqs[id] = seq
	}
	valSeq := validatorSeq

	// Sequential and parallel modes share the same predicted cycle: the
	// parallel validator interleaves freely at runtime, but one validator
	// turn per submitter round is still the expected cadence.
	cycleLength := numSubmitters + 1

	tasks := make([]model.WorkflowTask, 0, PredictionWindow)
	for i := 0; i < PredictionWindow; i++ {
		position := i % cycleLength

		var task model.WorkflowTask
		if position < numSubmitters {
			submitterID := position + 1
			seq := seqs[submitterID]
			role := fmt.Sprintf("Submitter %d", submitterID)
			if submitterID == 1 {
				role += " (Main Submitter)"
			}
			task = model.WorkflowTask{
				TaskID:         SubmitterTaskID(submitterID, seq),
				SequenceNumber: i + 1,
				Role:           role,
				Mode:           string(mode),
				Provider:       "lm_studio",
			}
			seqs[submitterID] = seq + 1
		} else {
			task = model.WorkflowTask{
				TaskID:         ValidatorTaskID(valSeq),
				SequenceNumber: i + 1,
				Role:           "Validator",
				Mode:           string(mode),
				Provider:       "lm_studio",
			}
			valSeq++
		}
		tasks = append(tasks, task)
	}

	return tasks
}

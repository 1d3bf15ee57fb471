package coordinator

import (
	"github.com/msageha/refinery/internal/events"
	"github.com/msageha/refinery/internal/model"
	"github.com/msageha/refinery/internal/workflow"
)

// RefreshPredictions rebuilds the predicted task list from the live
// per-role counters and broadcasts it. Predicted tasks are speculative:
// a refresh silently supersedes the previous prediction.
func (c *Coordinator) RefreshPredictions() {
	c.trackMu.Lock()
	tasks := workflow.PredictSubmitterWorkflow(len(c.submitters), c.mode, c.submitterSeqs, c.validatorSeq)
	for i := range tasks {
		if c.boost != nil {
			tasks[i].UsingBoost = c.boost.ShouldUseBoost(tasks[i].TaskID)
		}
		if tasks[i].TaskID == c.currentTaskID {
			tasks[i].Active = true
		}
	}
	c.tasks = tasks
	c.trackMu.Unlock()

	c.bus.Publish(events.EventWorkflowUpdated, map[string]interface{}{
		"tasks": tasks,
		"mode":  string(c.mode),
	})
	c.log(LogLevelDebug, "refreshed workflow predictions tasks=%d", len(tasks))
}

// PredictedTasks returns a copy of the current prediction window.
func (c *Coordinator) PredictedTasks() []model.WorkflowTask {
	c.trackMu.Lock()
	defer c.trackMu.Unlock()
	out := make([]model.WorkflowTask, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// nextSubmitterTaskID returns the task identity for the submitter's next
// generation call without advancing the counter; the counter advances on
// completion.
func (c *Coordinator) nextSubmitterTaskID(submitterID int) string {
	c.trackMu.Lock()
	defer c.trackMu.Unlock()
	return workflow.SubmitterTaskID(submitterID, c.submitterSeqs[submitterID])
}

func (c *Coordinator) nextValidatorTaskID() string {
	c.trackMu.Lock()
	defer c.trackMu.Unlock()
	return workflow.ValidatorTaskID(c.validatorSeq)
}

// markTaskStarted records taskID as the single active task. At most one
// task is active globally.
func (c *Coordinator) markTaskStarted(taskID string) {
	c.trackMu.Lock()
	c.currentTaskID = taskID
	for i := range c.tasks {
		c.tasks[i].Active = c.tasks[i].TaskID == taskID
	}
	c.trackMu.Unlock()

	c.bus.Publish(events.EventTaskStarted, map[string]interface{}{
		"task_id": taskID,
	})
}

// markTaskCompleted marks taskID terminal, advances its per-role counter,
// and refreshes predictions.
func (c *Coordinator) markTaskCompleted(taskID string) {
	c.trackMu.Lock()
	if c.currentTaskID == taskID {
		c.currentTaskID = ""
	}
	for i := range c.tasks {
		if c.tasks[i].TaskID == taskID {
			c.tasks[i].Completed = true
			c.tasks[i].Active = false
			break
		}
	}
	prefix := workflow.RolePrefix(taskID)
	if prefix == workflow.RolePrefixValidator {
		c.validatorSeq++
	} else {
		for _, s := range c.submitters {
			if workflow.SubmitterPrefix(s.ID()) == prefix {
				c.submitterSeqs[s.ID()]++
				break
			}
		}
	}
	c.trackMu.Unlock()

	c.bus.Publish(events.EventTaskCompleted, map[string]interface{}{
		"task_id": taskID,
	})

	if c.boost != nil && c.boost.ShouldUseBoost(taskID) {
		c.boost.ConsumeBoostCount()
	}

	c.RefreshPredictions()
}

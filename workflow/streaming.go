package workflow

import (
	"context"
	"time"
)

// ProgressStage identifies one phase of a streamed step execution.
type ProgressStage string

const (
	StageStarted       ProgressStage = "started"
	StageAgentResolved ProgressStage = "agent_resolved"
	StageExecuting     ProgressStage = "executing"
	StageCompleted     ProgressStage = "completed"
	StageFailed        ProgressStage = "failed"
)

// ProgressEvent is one observation of a streamed step execution.
type ProgressEvent struct {
	Stage     ProgressStage `json:"stage"`
	StepID    string        `json:"stepId"`
	AgentID   string        `json:"agentId,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ExecuteStepWithStreaming runs the current step like ExecuteStep but
// reports progress over a channel. The channel is finite: it closes
// after the terminal completed or failed event. Execution starts when
// this method is called, not when the channel is first read; events are
// buffered so a slow consumer never blocks the step.
func (e *Executor) ExecuteStepWithStreaming(ctx context.Context, instanceID, userInput string) <-chan ProgressEvent {
	// One event per stage plus slack for the resolution failure path.
	events := make(chan ProgressEvent, 8)

	go func() {
		defer close(events)
		terminal := false
		_, err := e.executeStep(ctx, instanceID, userInput, func(ev ProgressEvent) {
			if ev.Stage == StageCompleted || ev.Stage == StageFailed {
				terminal = true
			}
			select {
			case events <- ev:
			default:
				// Buffer full: drop rather than stall the step.
			}
		})
		// Validation failures bail out before any stage runs; the
		// stream still owes its consumer a terminal event.
		if err != nil && !terminal {
			events <- ProgressEvent{Stage: StageFailed, Error: err.Error(), Timestamp: e.clock.Now()}
		}
	}()

	return events
}

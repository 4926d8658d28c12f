package domain

import (
	"fmt"
	"time"
)

// WorkOrder is one end-to-end automated development request against a repository
type WorkOrder struct {
	ID               string
	RepositoryID     string
	UserRequest      string
	GitHubIssue      int // optional issue number folded into the prompt
	SelectedCommands []WorkflowStep
	SandboxType      SandboxType
	Status           Status
	CurrentPhase     *WorkflowStep // non-nil iff status is in_progress or review
	GitBranchName    string
	PullRequestURL   string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Validate checks the creation-time invariants of a work order
func (w *WorkOrder) Validate() error {
	if w.RepositoryID == "" {
		return fmt.Errorf("repository_id required")
	}
	if w.UserRequest == "" {
		return fmt.Errorf("user_request required")
	}
	if !w.SandboxType.Valid() {
		return fmt.Errorf("invalid sandbox_type %q", w.SandboxType)
	}
	if len(w.SelectedCommands) == 0 {
		return fmt.Errorf("selected_commands must not be empty")
	}
	for _, step := range w.SelectedCommands {
		if !step.Valid() {
			return fmt.Errorf("unknown workflow step %q", step)
		}
	}
	return nil
}

// CanTransition reports whether a status change is allowed.
// The machine is monotonic: todo -> in_progress -> {review <-> in_progress}* -> done.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusTodo:
		return to == StatusInProgress || to == StatusDone
	case StatusInProgress:
		return to == StatusReview || to == StatusDone || to == StatusInProgress
	case StatusReview:
		return to == StatusInProgress
	case StatusDone:
		return false
	}
	return false
}

// NextStep returns the step after cur in the order's command sequence,
// or false if cur is the last step.
func (w *WorkOrder) NextStep(cur WorkflowStep) (WorkflowStep, bool) {
	for i, s := range w.SelectedCommands {
		if s == cur && i+1 < len(w.SelectedCommands) {
			return w.SelectedCommands[i+1], true
		}
	}
	return "", false
}

// StepIndex returns the zero-based position of step in the command sequence,
// or -1 if it is not selected.
func (w *WorkOrder) StepIndex(step WorkflowStep) int {
	for i, s := range w.SelectedCommands {
		if s == step {
			return i
		}
	}
	return -1
}

// StepResult is one immutable entry of a work order's step history
type StepResult struct {
	ID              int64
	WorkOrderID     string
	Step            WorkflowStep
	AgentName       string
	Success         bool
	Output          string
	ErrorMessage    string
	DurationSeconds float64
	SessionID       string
	Timestamp       time.Time
}

// LogEntry is an ephemeral progress record published to the event bus.
// The step history is the durable record; subscribers may miss entries
// published before they attached.
type LogEntry struct {
	WorkOrderID    string        `json:"work_order_id"`
	Level          LogLevel      `json:"level"`
	Event          string        `json:"event"`
	Timestamp      time.Time     `json:"timestamp"`
	Step           *WorkflowStep `json:"step,omitempty"`
	StepNumber     int           `json:"step_number,omitempty"`
	TotalSteps     int           `json:"total_steps,omitempty"`
	ProgressPct    float64       `json:"progress_pct,omitempty"`
	ElapsedSeconds float64       `json:"elapsed_seconds,omitempty"`
	Error          string        `json:"error,omitempty"`
	Output         string        `json:"output,omitempty"`
}

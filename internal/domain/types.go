package domain

// Status represents the lifecycle state of a work order
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// Terminal reports whether a work order in this status is finished
func (s Status) Terminal() bool {
	return s == StatusDone
}

// SandboxType selects the isolation strategy for a work order
type SandboxType string

const (
	SandboxGitBranch   SandboxType = "git_branch"
	SandboxGitWorktree SandboxType = "git_worktree"
)

// Valid reports whether t is a known sandbox type
func (t SandboxType) Valid() bool {
	return t == SandboxGitBranch || t == SandboxGitWorktree
}

// WorkflowStep identifies one step of a work order's command sequence
type WorkflowStep string

const (
	StepCreateBranch WorkflowStep = "create-branch"
	StepPlanning     WorkflowStep = "planning"
	StepExecute      WorkflowStep = "execute"
	StepCommit       WorkflowStep = "commit"
	StepCreatePR     WorkflowStep = "create-pr"
	StepPRPReview    WorkflowStep = "prp-review"
)

// Valid reports whether w is a known workflow step
func (w WorkflowStep) Valid() bool {
	switch w {
	case StepCreateBranch, StepPlanning, StepExecute, StepCommit, StepCreatePR, StepPRPReview:
		return true
	}
	return false
}

// HumanGate reports whether this step suspends execution pending external approval
func (w WorkflowStep) HumanGate() bool {
	return w == StepPRPReview
}

// DefaultCommands returns the standard fully-automated step sequence
func DefaultCommands() []WorkflowStep {
	return []WorkflowStep{StepCreateBranch, StepPlanning, StepExecute, StepCommit, StepCreatePR}
}

// LogLevel classifies a log entry
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

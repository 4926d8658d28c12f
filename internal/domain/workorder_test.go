package domain

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusTodo, StatusInProgress},
		{StatusTodo, StatusDone},
		{StatusInProgress, StatusReview},
		{StatusInProgress, StatusDone},
		{StatusInProgress, StatusInProgress},
		{StatusReview, StatusInProgress},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusDone, StatusInProgress},
		{StatusDone, StatusReview},
		{StatusDone, StatusTodo},
		{StatusReview, StatusDone},
		{StatusReview, StatusTodo},
		{StatusInProgress, StatusTodo},
		{StatusTodo, StatusReview},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestWorkOrder_Validate(t *testing.T) {
	valid := WorkOrder{
		RepositoryID:     "repo-1",
		UserRequest:      "add a login page",
		SandboxType:      SandboxGitBranch,
		SelectedCommands: DefaultCommands(),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	cases := []struct {
		name   string
		mutate func(*WorkOrder)
	}{
		{"missing repository", func(w *WorkOrder) { w.RepositoryID = "" }},
		{"missing request", func(w *WorkOrder) { w.UserRequest = "" }},
		{"bad sandbox type", func(w *WorkOrder) { w.SandboxType = "docker" }},
		{"empty commands", func(w *WorkOrder) { w.SelectedCommands = nil }},
		{"unknown step", func(w *WorkOrder) { w.SelectedCommands = []WorkflowStep{"deploy"} }},
	}
	for _, tc := range cases {
		w := valid
		w.SelectedCommands = append([]WorkflowStep(nil), valid.SelectedCommands...)
		tc.mutate(&w)
		if err := w.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tc.name)
		}
	}
}

func TestWorkOrder_NextStep(t *testing.T) {
	w := WorkOrder{SelectedCommands: []WorkflowStep{StepCreateBranch, StepExecute, StepCommit}}

	next, ok := w.NextStep(StepCreateBranch)
	if !ok || next != StepExecute {
		t.Errorf("NextStep(create-branch) = %q, %v, want execute, true", next, ok)
	}
	if _, ok := w.NextStep(StepCommit); ok {
		t.Error("NextStep(last step) ok = true, want false")
	}
	if _, ok := w.NextStep(StepCreatePR); ok {
		t.Error("NextStep(unselected step) ok = true, want false")
	}
}

func TestWorkflowStep_HumanGate(t *testing.T) {
	if !StepPRPReview.HumanGate() {
		t.Error("prp-review should be a human gate")
	}
	for _, s := range DefaultCommands() {
		if s.HumanGate() {
			t.Errorf("%s should not be a human gate", s)
		}
	}
}

func TestDefaultCommands(t *testing.T) {
	cmds := DefaultCommands()
	want := []WorkflowStep{StepCreateBranch, StepPlanning, StepExecute, StepCommit, StepCreatePR}
	if len(cmds) != len(want) {
		t.Fatalf("len(DefaultCommands()) = %d, want %d", len(cmds), len(want))
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("DefaultCommands()[%d] = %s, want %s", i, cmds[i], want[i])
		}
	}
}

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/sandbox"
)

func testHandle(orderID string) *sandbox.Handle {
	return &sandbox.Handle{
		ID:           "h-" + orderID,
		WorkOrderID:  orderID,
		RepositoryID: "repo-1",
		Type:         domain.SandboxGitWorktree,
		Branch:       "agent/wo-" + orderID,
		Path:         "/work/" + orderID,
	}
}

// Scenario A: all five standard steps succeed
func TestRunner_AllStepsSucceed(t *testing.T) {
	store := newEngineStore(t)
	agentRunner := &fakeRunner{outBy: map[string]string{
		"create-pr": "opened https://github.com/acme/app/pull/12",
	}}
	runner := NewRunner(store, NewStepExecutor(&fakeResolver{}, agentRunner, nil, 0), nil)

	order := createOrder(t, store, domain.DefaultCommands(), domain.SandboxGitBranch)
	h := testHandle(order.ID)

	suspended, err := runner.Run(context.Background(), order.ID, h)
	if err != nil {
		t.Fatal(err)
	}
	if suspended {
		t.Fatal("order suspended without a human gate")
	}

	got, _ := store.GetOrder(order.ID)
	if got.Status != domain.StatusDone {
		t.Errorf("Status = %s, want done", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", got.ErrorMessage)
	}
	if got.CurrentPhase != nil {
		t.Errorf("CurrentPhase = %v, want nil", *got.CurrentPhase)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if got.GitBranchName != h.Branch {
		t.Errorf("GitBranchName = %q, want %q", got.GitBranchName, h.Branch)
	}
	if got.PullRequestURL != "https://github.com/acme/app/pull/12" {
		t.Errorf("PullRequestURL = %q", got.PullRequestURL)
	}

	history, _ := store.StepHistory(order.ID)
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	for i, step := range order.SelectedCommands {
		if history[i].Step != step {
			t.Errorf("history[%d].Step = %s, want %s", i, history[i].Step, step)
		}
		if !history[i].Success {
			t.Errorf("history[%d] failed: %s", i, history[i].ErrorMessage)
		}
	}
}

// Scenario B: a mid-sequence step fails; later steps never run
func TestRunner_FailFastOnStepFailure(t *testing.T) {
	store := newEngineStore(t)
	agentRunner := &fakeRunner{errBy: map[string]error{
		"execute": errors.New("agent timed out after 30s"),
	}}
	runner := NewRunner(store, NewStepExecutor(&fakeResolver{}, agentRunner, nil, 0), nil)

	order := createOrder(t, store, domain.DefaultCommands(), domain.SandboxGitBranch)
	h := testHandle(order.ID)

	if _, err := runner.Run(context.Background(), order.ID, h); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetOrder(order.ID)
	if got.Status != domain.StatusDone {
		t.Errorf("Status = %s, want done", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("ErrorMessage should be set on failure")
	}
	if got.PullRequestURL != "" {
		t.Error("PullRequestURL should not be set")
	}

	history, _ := store.StepHistory(order.ID)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (create-branch, planning, execute)", len(history))
	}
	wantSteps := []domain.WorkflowStep{domain.StepCreateBranch, domain.StepPlanning, domain.StepExecute}
	for i, step := range wantSteps {
		if history[i].Step != step {
			t.Errorf("history[%d].Step = %s, want %s", i, history[i].Step, step)
		}
	}
	if history[2].Success {
		t.Error("execute should have failed")
	}
	for _, p := range agentRunner.prompts() {
		if p == "commit" || p == "create-pr" {
			t.Errorf("step %s was attempted after the failure", p)
		}
	}
}

// Scenario C (runner half): a human gate parks the order durably and a
// fresh runner resumes it from persisted state alone
func TestRunner_HumanGateSuspendAndResume(t *testing.T) {
	store := newEngineStore(t)
	agentRunner := &fakeRunner{}
	commands := []domain.WorkflowStep{domain.StepExecute, domain.StepPRPReview, domain.StepCommit}

	order := createOrder(t, store, commands, domain.SandboxGitBranch)
	h := testHandle(order.ID)

	runner := NewRunner(store, NewStepExecutor(&fakeResolver{}, agentRunner, nil, 0), nil)
	suspended, err := runner.Run(context.Background(), order.ID, h)
	if err != nil {
		t.Fatal(err)
	}
	if !suspended {
		t.Fatal("order should suspend at prp-review")
	}

	got, _ := store.GetOrder(order.ID)
	if got.Status != domain.StatusReview {
		t.Errorf("Status = %s, want review", got.Status)
	}
	if got.CurrentPhase == nil || *got.CurrentPhase != domain.StepPRPReview {
		t.Errorf("CurrentPhase = %v, want prp-review", got.CurrentPhase)
	}

	history, _ := store.StepHistory(order.ID)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (execute, prp-review)", len(history))
	}

	// Explicit external resume, then a brand-new runner continues
	if err := store.UpdateStatus(order.ID, domain.StatusInProgress, got.CurrentPhase); err != nil {
		t.Fatal(err)
	}
	fresh := NewRunner(store, NewStepExecutor(&fakeResolver{}, agentRunner, nil, 0), nil)
	suspended, err = fresh.Run(context.Background(), order.ID, h)
	if err != nil {
		t.Fatal(err)
	}
	if suspended {
		t.Fatal("resumed order suspended again")
	}

	got, _ = store.GetOrder(order.ID)
	if got.Status != domain.StatusDone || got.ErrorMessage != "" {
		t.Errorf("after resume: status %s err %q, want done with no error", got.Status, got.ErrorMessage)
	}
	history, _ = store.StepHistory(order.ID)
	if len(history) != 3 || history[2].Step != domain.StepCommit {
		t.Errorf("history after resume = %d entries, want commit as third", len(history))
	}
}

func TestRunner_GateAsLastStepCompletes(t *testing.T) {
	store := newEngineStore(t)
	commands := []domain.WorkflowStep{domain.StepExecute, domain.StepPRPReview}
	order := createOrder(t, store, commands, domain.SandboxGitWorktree)

	runner := NewRunner(store, NewStepExecutor(&fakeResolver{}, &fakeRunner{}, nil, 0), nil)
	suspended, err := runner.Run(context.Background(), order.ID, testHandle(order.ID))
	if err != nil {
		t.Fatal(err)
	}
	if suspended {
		t.Error("a trailing gate with nothing left to run should finish the order")
	}
	got, _ := store.GetOrder(order.ID)
	if got.Status != domain.StatusDone {
		t.Errorf("Status = %s, want done", got.Status)
	}
}

func TestRunner_SchedulingResolutionFailure(t *testing.T) {
	store := newEngineStore(t)
	resolver := &fakeResolver{fail: map[domain.WorkflowStep]error{
		domain.StepCreateBranch: errors.New("unknown template"),
	}}
	runner := NewRunner(store, NewStepExecutor(resolver, &fakeRunner{}, nil, 0), nil)

	order := createOrder(t, store, domain.DefaultCommands(), domain.SandboxGitBranch)
	if _, err := runner.Run(context.Background(), order.ID, testHandle(order.ID)); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetOrder(order.ID)
	if got.Status != domain.StatusDone || got.ErrorMessage == "" {
		t.Errorf("status %s err %q, want done with error", got.Status, got.ErrorMessage)
	}
}

func TestRunner_CancelledBeforeNextStep(t *testing.T) {
	store := newEngineStore(t)
	runner := NewRunner(store, NewStepExecutor(&fakeResolver{}, &fakeRunner{}, nil, 0), nil)
	order := createOrder(t, store, domain.DefaultCommands(), domain.SandboxGitBranch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Run(ctx, order.ID, testHandle(order.ID)); err == nil {
		t.Fatal("cancelled run should return an error")
	}

	// Nothing recorded, order untouched
	history, _ := store.StepHistory(order.ID)
	if len(history) != 0 {
		t.Errorf("history length = %d, want 0", len(history))
	}
	got, _ := store.GetOrder(order.ID)
	if got.Status != domain.StatusTodo {
		t.Errorf("Status = %s, want todo", got.Status)
	}
}

func TestRunner_DoneOrderRefusesToRun(t *testing.T) {
	store := newEngineStore(t)
	runner := NewRunner(store, NewStepExecutor(&fakeResolver{}, &fakeRunner{}, nil, 0), nil)
	order := createOrder(t, store, []domain.WorkflowStep{domain.StepExecute}, domain.SandboxGitWorktree)

	if _, err := runner.Run(context.Background(), order.ID, testHandle(order.ID)); err != nil {
		t.Fatal(err)
	}
	if _, err := runner.Run(context.Background(), order.ID, testHandle(order.ID)); err == nil {
		t.Error("running a done order should fail")
	}
}

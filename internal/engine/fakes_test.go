package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/workorder-orchestrator/internal/agent"
	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/orderstore"
	"github.com/hochfrequenz/workorder-orchestrator/internal/templates"
)

// fakeResolver returns a minimal single-agent template per step whose
// prompt is just the step name, so the fake runner can key on it. Specific
// steps can be overridden with composite or failing templates.
type fakeResolver struct {
	custom map[domain.WorkflowStep]*templates.StepTemplate
	fail   map[domain.WorkflowStep]error
}

func (f *fakeResolver) Resolve(step domain.WorkflowStep) (*templates.StepTemplate, error) {
	if f.fail != nil {
		if err, ok := f.fail[step]; ok {
			return nil, err
		}
	}
	if f.custom != nil {
		if t, ok := f.custom[step]; ok {
			return t, nil
		}
	}
	return &templates.StepTemplate{
		Step:   step,
		Active: true,
		Agent:  &templates.AgentBinding{Name: string(step) + "-agent", Prompt: string(step)},
	}, nil
}

type call struct {
	prompt  string
	started time.Time
	ended   time.Time
}

// fakeRunner is an agent.Runner with per-prompt outputs, errors, and delays
type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	outBy map[string]string
	errBy map[string]error
	delay time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
	started := time.Now()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{prompt: inv.Prompt, started: started, ended: time.Now()})
	err := f.errBy[inv.Prompt]
	out, ok := f.outBy[inv.Prompt]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		out = "done: " + inv.Prompt
	}
	return &agent.Result{Output: out, Duration: time.Since(started)}, nil
}

func (f *fakeRunner) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.prompt)
	}
	return out
}

func newEngineStore(t *testing.T) *orderstore.Store {
	t.Helper()
	store, err := orderstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createOrder(t *testing.T, store *orderstore.Store, commands []domain.WorkflowStep, sandboxType domain.SandboxType) *domain.WorkOrder {
	t.Helper()
	order := &domain.WorkOrder{
		ID:               uuid.NewString(),
		RepositoryID:     "repo-1",
		UserRequest:      "add a login page",
		SandboxType:      sandboxType,
		SelectedCommands: commands,
	}
	if err := store.CreateOrder(order); err != nil {
		t.Fatal(err)
	}
	return order
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

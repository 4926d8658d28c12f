// Package agent is the adapter between the orchestration engine and the
// external coding agent. The agent itself is a black box: it receives a
// composed prompt and a workspace, and returns output or an error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
)

// sessionNamespace is a fixed UUID namespace for deterministic session IDs,
// so the same (work order, step) pair always maps to the same agent session
var sessionNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// SessionID derives the deterministic agent session ID for one step of one
// work order
func SessionID(workOrderID string, step domain.WorkflowStep) string {
	return uuid.NewSHA1(sessionNamespace, []byte(workOrderID+"/"+string(step))).String()
}

// Invocation is one request to the agent runner
type Invocation struct {
	Prompt    string
	Model     string
	Tools     []string
	WorkDir   string
	SessionID string
}

// Result is the outcome of a successful invocation
type Result struct {
	Output   string
	Duration time.Duration
}

// Runner executes one agent invocation. Implementations must honor context
// cancellation; a deadline expiry is reported as an error and treated by
// the engine as a step failure, never a retry.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// CLIRunner invokes the agent through its command-line interface
type CLIRunner struct {
	// Executable is the agent binary, "claude" when empty
	Executable string
	// Model is used when the invocation names none
	Model string
}

func (r *CLIRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	execName := r.Executable
	if execName == "" {
		execName = "claude"
	}

	args := []string{
		"--print",
		"--dangerously-skip-permissions",
	}
	model := inv.Model
	if model == "" {
		model = r.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if inv.SessionID != "" {
		args = append(args, "--session-id", inv.SessionID)
	}
	if len(inv.Tools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(inv.Tools, ","))
	}
	args = append(args, "-p", inv.Prompt)

	cmd := exec.CommandContext(ctx, execName, args...)
	cmd.Dir = inv.WorkDir

	start := time.Now()
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("agent timed out after %s", elapsed.Round(time.Second))
		}
		return nil, fmt.Errorf("running %s: %s: %w", execName, strings.TrimSpace(string(out)), err)
	}

	return &Result{Output: string(out), Duration: elapsed}, nil
}

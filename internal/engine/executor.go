package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/workorder-orchestrator/internal/agent"
	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/eventbus"
	"github.com/hochfrequenz/workorder-orchestrator/internal/templates"
)

// Resolver looks up step templates from the external template registry
type Resolver interface {
	Resolve(step domain.WorkflowStep) (*templates.StepTemplate, error)
}

// StepExecutor executes exactly one workflow step for one work order and
// produces a single immutable step result. It never retries; retry policy
// belongs to the caller.
type StepExecutor struct {
	resolver Resolver
	runner   agent.Runner
	bus      *eventbus.Bus
	timeout  time.Duration
}

// NewStepExecutor creates a StepExecutor. timeout bounds each agent
// invocation; zero means no bound.
func NewStepExecutor(resolver Resolver, runner agent.Runner, bus *eventbus.Bus, timeout time.Duration) *StepExecutor {
	return &StepExecutor{resolver: resolver, runner: runner, bus: bus, timeout: timeout}
}

// Execute resolves a step's template and drives the agent runner: once for
// a single-agent template, once per sub-step in ascending order for a
// composite one. Sub-step failures short-circuit the step only when the
// sub-step is required. The returned result is recorded verbatim whether it
// succeeded or failed.
func (e *StepExecutor) Execute(ctx context.Context, order *domain.WorkOrder, sandboxPath, branch string, step domain.WorkflowStep, stepNum, total int, priorOutputs string) *domain.StepResult {
	start := time.Now()
	result := &domain.StepResult{
		WorkOrderID: order.ID,
		Step:        step,
		SessionID:   agent.SessionID(order.ID, step),
		Timestamp:   start,
	}

	e.publish(order.ID, domain.LevelInfo, "step_started", step, stepNum, total, start, "", "")

	tmpl, err := e.resolver.Resolve(step)
	if err != nil {
		result.ErrorMessage = err.Error()
		result.DurationSeconds = time.Since(start).Seconds()
		e.publish(order.ID, domain.LevelError, "step_failed", step, stepNum, total, start, err.Error(), "")
		return result
	}
	result.AgentName = tmpl.AgentName()

	promptCtx := agent.PromptContext{
		UserRequest:  order.UserRequest,
		PriorOutputs: priorOutputs,
		SandboxPath:  sandboxPath,
		Branch:       branch,
		GitHubIssue:  order.GitHubIssue,
	}

	var output string
	if tmpl.Agent != nil {
		output, err = e.invoke(ctx, *tmpl.Agent, promptCtx, result.SessionID, sandboxPath)
	} else {
		output, err = e.runSubSteps(ctx, order, tmpl, promptCtx, sandboxPath, step, stepNum, total, start)
	}

	result.DurationSeconds = time.Since(start).Seconds()
	if err != nil {
		result.ErrorMessage = err.Error()
		e.publish(order.ID, domain.LevelError, "step_failed", step, stepNum, total, start, err.Error(), "")
		return result
	}

	result.Success = true
	result.Output = output
	e.publish(order.ID, domain.LevelInfo, "step_completed", step, stepNum, total, start, "", output)
	return result
}

// runSubSteps drives a composite template's children strictly in ascending
// order, short-circuiting on the first failed required sub-step
func (e *StepExecutor) runSubSteps(ctx context.Context, order *domain.WorkOrder, tmpl *templates.StepTemplate, promptCtx agent.PromptContext, sandboxPath string, step domain.WorkflowStep, stepNum, total int, start time.Time) (string, error) {
	var outputs []string
	for _, sub := range tmpl.SubSteps {
		out, err := e.invoke(ctx, sub.Agent, promptCtx, agent.SessionID(order.ID, step)+fmt.Sprintf("-%d", sub.Order), sandboxPath)
		if err != nil {
			if sub.Required {
				return "", fmt.Errorf("substep %d (%s): %w", sub.Order, sub.Agent.Name, err)
			}
			// Optional failures are recorded, not fatal
			outputs = append(outputs, fmt.Sprintf("[%s failed: %v]", sub.Agent.Name, err))
			e.publish(order.ID, domain.LevelWarn, "substep_failed", step, stepNum, total, start, err.Error(), "")
			continue
		}
		outputs = append(outputs, out)
		// Later sub-steps see earlier outputs
		promptCtx.PriorOutputs = strings.Join(outputs, "\n\n")
	}
	return strings.Join(outputs, "\n\n"), nil
}

// invoke renders a binding's prompt and runs the agent once, bounded by the
// executor's timeout. A timeout is a step failure, not a retry.
func (e *StepExecutor) invoke(ctx context.Context, binding templates.AgentBinding, promptCtx agent.PromptContext, sessionID, workDir string) (string, error) {
	prompt, err := agent.RenderPrompt(binding.Prompt, promptCtx)
	if err != nil {
		return "", err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := e.runner.Run(ctx, agent.Invocation{
		Prompt:    prompt,
		Model:     binding.Model,
		Tools:     binding.Tools,
		WorkDir:   workDir,
		SessionID: sessionID,
	})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// publish emits a progress log entry. progress_pct counts completed steps,
// so it is monotonically non-decreasing across a work order's lifetime.
func (e *StepExecutor) publish(orderID string, level domain.LogLevel, event string, step domain.WorkflowStep, stepNum, total int, start time.Time, errMsg, output string) {
	if e.bus == nil {
		return
	}
	pct := 0.0
	if total > 0 {
		completed := stepNum - 1
		if event == "step_completed" {
			completed = stepNum
		}
		pct = float64(completed) / float64(total) * 100
	}
	e.bus.Publish(domain.LogEntry{
		WorkOrderID:    orderID,
		Level:          level,
		Event:          event,
		Timestamp:      time.Now(),
		Step:           &step,
		StepNumber:     stepNum,
		TotalSteps:     total,
		ProgressPct:    pct,
		ElapsedSeconds: time.Since(start).Seconds(),
		Error:          errMsg,
		Output:         truncate(output, 2000),
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

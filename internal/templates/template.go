package templates

import (
	"fmt"
	"sort"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

// AgentBinding binds a prompt to an agent and its execution constraints
type AgentBinding struct {
	Name   string   `yaml:"name"`
	Model  string   `yaml:"model"`
	Prompt string   `yaml:"prompt"`
	Tools  []string `yaml:"tools"`
}

// SubStep is one ordered child of a composite step template
type SubStep struct {
	Order    int          `yaml:"order"`
	Required bool         `yaml:"required"`
	Agent    AgentBinding `yaml:"agent"`
}

// StepTemplate is the resolved definition of one workflow step. Exactly one
// of Agent and SubSteps is set: a template is either a single agent binding
// or an ordered sub-step sequence.
type StepTemplate struct {
	Step     domain.WorkflowStep `yaml:"step"`
	Active   bool                `yaml:"active"`
	Agent    *AgentBinding       `yaml:"agent"`
	SubSteps []SubStep           `yaml:"substeps"`
}

// Parse decodes and validates a yaml step template definition
func Parse(data []byte) (*StepTemplate, error) {
	var t StepTemplate
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding template: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(t.SubSteps, func(i, j int) bool {
		return t.SubSteps[i].Order < t.SubSteps[j].Order
	})
	return &t, nil
}

func (t *StepTemplate) validate() error {
	if !t.Step.Valid() {
		return fmt.Errorf("template names unknown step %q", t.Step)
	}
	if t.Agent != nil && len(t.SubSteps) > 0 {
		return fmt.Errorf("template %s sets both agent and substeps", t.Step)
	}
	if t.Agent == nil && len(t.SubSteps) == 0 {
		return fmt.Errorf("template %s sets neither agent nor substeps", t.Step)
	}
	if t.Agent != nil && t.Agent.Name == "" {
		return fmt.Errorf("template %s: agent name required", t.Step)
	}
	for i, sub := range t.SubSteps {
		if sub.Agent.Name == "" {
			return fmt.Errorf("template %s: substep %d agent name required", t.Step, i)
		}
	}
	return nil
}

// AgentName returns the agent recorded in step results for this template.
// Composite templates report the first required sub-step's agent.
func (t *StepTemplate) AgentName() string {
	if t.Agent != nil {
		return t.Agent.Name
	}
	for _, sub := range t.SubSteps {
		if sub.Required {
			return sub.Agent.Name
		}
	}
	if len(t.SubSteps) > 0 {
		return t.SubSteps[0].Agent.Name
	}
	return ""
}

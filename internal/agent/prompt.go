package agent

import (
	"bytes"
	"fmt"
	"text/template"
)

// PromptContext carries the fields a step template's prompt may reference
type PromptContext struct {
	UserRequest  string
	PriorOutputs string
	SandboxPath  string
	Branch       string
	GitHubIssue  int
}

// RenderPrompt expands a step template's prompt text with the work order's
// context
func RenderPrompt(promptText string, ctx PromptContext) (string, error) {
	tmpl, err := template.New("prompt").Parse(promptText)
	if err != nil {
		return "", fmt.Errorf("parsing prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}

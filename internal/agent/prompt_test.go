package agent

import (
	"strings"
	"testing"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
)

func TestRenderPrompt(t *testing.T) {
	text := "Implement in {{.SandboxPath}}:\n{{.UserRequest}}{{if .GitHubIssue}} (issue #{{.GitHubIssue}}){{end}}"
	got, err := RenderPrompt(text, PromptContext{
		UserRequest: "add a login page",
		SandboxPath: "/work/repo",
		GitHubIssue: 7,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"/work/repo", "add a login page", "issue #7"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered prompt missing %q:\n%s", want, got)
		}
	}
}

func TestRenderPrompt_OmitsZeroIssue(t *testing.T) {
	got, err := RenderPrompt("{{if .GitHubIssue}}issue{{end}}ok", PromptContext{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("rendered = %q, want %q", got, "ok")
	}
}

func TestRenderPrompt_BadTemplate(t *testing.T) {
	if _, err := RenderPrompt("{{.Missing", PromptContext{}); err == nil {
		t.Error("RenderPrompt should fail on a malformed template")
	}
}

func TestSessionID_Deterministic(t *testing.T) {
	a := SessionID("order-1", domain.StepExecute)
	b := SessionID("order-1", domain.StepExecute)
	if a != b {
		t.Errorf("session IDs differ for same order and step: %s vs %s", a, b)
	}
	if a == SessionID("order-1", domain.StepCommit) {
		t.Error("different steps should get different session IDs")
	}
	if a == SessionID("order-2", domain.StepExecute) {
		t.Error("different orders should get different session IDs")
	}
}

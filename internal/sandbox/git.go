package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// GitOps abstracts the git plumbing behind the sandbox manager so the
// locking behavior can be tested without a real repository
type GitOps interface {
	// CheckoutBranch checks out a fresh branch from baseBranch into the
	// repository's shared working directory and returns its path
	CheckoutBranch(repoDir, branch, baseBranch string) (string, error)
	// AddWorktree creates a linked worktree rooted at a new branch and
	// returns its path
	AddWorktree(repoDir, branch, baseBranch string) (string, error)
	// RestoreBranch returns the shared working directory to baseBranch,
	// discarding uncommitted state. The sandbox branch is deleted unless
	// preserve is set.
	RestoreBranch(repoDir, branch, baseBranch string, preserve bool) error
	// RemoveWorktree removes a linked worktree. The worktree and its branch
	// are kept when preserve is set.
	RemoveWorktree(repoDir, wtPath, branch string, preserve bool) error
}

// CLI is the GitOps implementation that shells out to git
type CLI struct {
	// WorktreeDir is where linked worktrees are created. Defaults to a
	// "worktrees" sibling of the repository when empty.
	WorktreeDir string
}

func (c *CLI) run(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %s: %s: %w", args[0], out, err)
	}
	return nil
}

// baseRef resolves the ref to branch from, preferring the remote tip
func (c *CLI) baseRef(repoDir, baseBranch string) string {
	fetch := exec.Command("git", "fetch", "origin", baseBranch)
	fetch.Dir = repoDir
	fetch.Run() // remote may not exist in tests

	ref := "origin/" + baseBranch
	check := exec.Command("git", "rev-parse", "--verify", ref)
	check.Dir = repoDir
	if check.Run() != nil {
		return baseBranch
	}
	return ref
}

func (c *CLI) CheckoutBranch(repoDir, branch, baseBranch string) (string, error) {
	base := c.baseRef(repoDir, baseBranch)
	if err := c.run(repoDir, "checkout", "-B", branch, base); err != nil {
		return "", err
	}
	return repoDir, nil
}

func (c *CLI) AddWorktree(repoDir, branch, baseBranch string) (string, error) {
	wtDir := c.WorktreeDir
	if wtDir == "" {
		wtDir = filepath.Join(filepath.Dir(repoDir), "worktrees")
	}
	if err := os.MkdirAll(wtDir, 0755); err != nil {
		return "", fmt.Errorf("creating worktree dir: %w", err)
	}

	// Drop stale administrative entries from earlier crashes
	c.run(repoDir, "worktree", "prune")

	wtPath := filepath.Join(wtDir, filepath.Base(branch))
	base := c.baseRef(repoDir, baseBranch)
	if err := c.run(repoDir, "worktree", "add", "-b", branch, wtPath, base); err != nil {
		return "", err
	}
	return wtPath, nil
}

func (c *CLI) RestoreBranch(repoDir, branch, baseBranch string, preserve bool) error {
	if !preserve {
		// Discard uncommitted state before switching away
		c.run(repoDir, "reset", "--hard")
		c.run(repoDir, "clean", "-fd")
	}
	if err := c.run(repoDir, "checkout", baseBranch); err != nil {
		return err
	}
	if !preserve {
		return c.run(repoDir, "branch", "-D", branch)
	}
	return nil
}

func (c *CLI) RemoveWorktree(repoDir, wtPath, branch string, preserve bool) error {
	if preserve {
		return nil
	}
	if err := c.run(repoDir, "worktree", "remove", "--force", wtPath); err != nil {
		return err
	}
	return c.run(repoDir, "branch", "-D", branch)
}

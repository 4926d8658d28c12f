package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"golang.org/x/sync/semaphore"
)

// ErrUnknownRepository is returned when acquiring a sandbox for a
// repository the manager has no configuration for
var ErrUnknownRepository = errors.New("unknown repository")

// Repo holds the access coordinates for one configured repository
type Repo struct {
	ID            string
	GitDir        string
	DefaultBranch string
}

// Handle represents one held sandbox. It is returned by Acquire and must be
// passed back to Release exactly once; extra Release calls are no-ops.
type Handle struct {
	ID           string
	WorkOrderID  string
	RepositoryID string
	Type         domain.SandboxType
	Branch       string
	Path         string
	AcquiredAt   time.Time

	preserve bool
	released bool
}

// PreserveWorkspace marks the handle so Release frees the repository lock
// without deleting the branch or worktree. Used after a step failure so the
// workspace stays inspectable.
func (h *Handle) PreserveWorkspace() {
	h.preserve = true
}

// Manager creates and tears down isolated git workspaces. Branch sandboxes
// on the same repository are serialized FIFO through a per-repository lock;
// worktree sandboxes are independent.
type Manager struct {
	repos map[string]Repo
	git   GitOps

	mu     sync.Mutex
	locks  map[string]*semaphore.Weighted
	active map[string]*Handle
}

// NewManager creates a Manager over the given repositories
func NewManager(repos []Repo, git GitOps) *Manager {
	m := &Manager{
		repos:  make(map[string]Repo, len(repos)),
		git:    git,
		locks:  make(map[string]*semaphore.Weighted),
		active: make(map[string]*Handle),
	}
	for _, r := range repos {
		if r.DefaultBranch == "" {
			r.DefaultBranch = "main"
		}
		m.repos[r.ID] = r
	}
	return m
}

// branchLock returns the per-repository lock serializing branch sandboxes
func (m *Manager) branchLock(repoID string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[repoID]
	if !ok {
		lock = semaphore.NewWeighted(1)
		m.locks[repoID] = lock
	}
	return lock
}

// Acquire prepares an isolated workspace for a work order. For git_branch
// sandboxes it blocks until no other branch sandbox holds the repository's
// shared working directory. Acquisition failures are fatal to the work
// order; no steps execute.
func (m *Manager) Acquire(ctx context.Context, workOrderID, repoID string, sandboxType domain.SandboxType) (*Handle, error) {
	repo, ok := m.repos[repoID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRepository, repoID)
	}

	h := &Handle{
		ID:           uuid.NewString(),
		WorkOrderID:  workOrderID,
		RepositoryID: repoID,
		Type:         sandboxType,
		Branch:       branchName(workOrderID),
	}

	switch sandboxType {
	case domain.SandboxGitBranch:
		lock := m.branchLock(repoID)
		if err := lock.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("waiting for repository lock: %w", err)
		}
		path, err := m.git.CheckoutBranch(repo.GitDir, h.Branch, repo.DefaultBranch)
		if err != nil {
			lock.Release(1)
			return nil, fmt.Errorf("creating branch sandbox: %w", err)
		}
		h.Path = path
	case domain.SandboxGitWorktree:
		path, err := m.git.AddWorktree(repo.GitDir, h.Branch, repo.DefaultBranch)
		if err != nil {
			return nil, fmt.Errorf("creating worktree sandbox: %w", err)
		}
		h.Path = path
	default:
		return nil, fmt.Errorf("invalid sandbox type %q", sandboxType)
	}

	h.AcquiredAt = time.Now()

	m.mu.Lock()
	m.active[h.ID] = h
	m.mu.Unlock()

	return h, nil
}

// Release frees the sandbox's resources. It is idempotent and safe after a
// partial failure. Git cleanup errors are logged, never surfaced: a leaked
// workspace is an operational concern, not a work order failure.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	if h.released {
		m.mu.Unlock()
		return
	}
	h.released = true
	delete(m.active, h.ID)
	m.mu.Unlock()

	repo := m.repos[h.RepositoryID]

	switch h.Type {
	case domain.SandboxGitBranch:
		if err := m.git.RestoreBranch(repo.GitDir, h.Branch, repo.DefaultBranch, h.preserve); err != nil {
			log.Printf("sandbox: cleanup of branch %s in %s failed: %v", h.Branch, h.RepositoryID, err)
		}
		m.branchLock(h.RepositoryID).Release(1)
	case domain.SandboxGitWorktree:
		if err := m.git.RemoveWorktree(repo.GitDir, h.Path, h.Branch, h.preserve); err != nil {
			log.Printf("sandbox: cleanup of worktree %s in %s failed: %v", h.Path, h.RepositoryID, err)
		}
	}
}

// Active returns the currently held handles
func (m *Manager) Active() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	handles := make([]*Handle, 0, len(m.active))
	for _, h := range m.active {
		handles = append(handles, h)
	}
	return handles
}

// branchName derives the sandbox branch for a work order
func branchName(workOrderID string) string {
	id := workOrderID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("agent/wo-%s", id)
}

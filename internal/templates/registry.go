package templates

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
)

// Registry resolves step templates with override support. Directories are
// checked in order; first match wins; embedded defaults are the fallback.
type Registry struct {
	overrideDirs []string
	cache        map[domain.WorkflowStep]*StepTemplate
	mu           sync.RWMutex
}

// NewRegistry creates a registry with the given override directories
func NewRegistry(overrideDirs ...string) *Registry {
	return &Registry{
		overrideDirs: overrideDirs,
		cache:        make(map[domain.WorkflowStep]*StepTemplate),
	}
}

// Resolve returns the template for a workflow step. Resolution is read-only
// and side-effect-free; an unknown or inactive template is an error, never
// a silent skip.
func (r *Registry) Resolve(step domain.WorkflowStep) (*StepTemplate, error) {
	r.mu.RLock()
	cached, ok := r.cache[step]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := r.loadContent(string(step) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown step template %q: %w", step, err)
	}

	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("step template %q: %w", step, err)
	}
	if t.Step != step {
		return nil, fmt.Errorf("step template %q declares step %q", step, t.Step)
	}
	if !t.Active {
		return nil, fmt.Errorf("step template %q is inactive", step)
	}

	r.mu.Lock()
	r.cache[step] = t
	r.mu.Unlock()

	return t, nil
}

// Invalidate drops the cache so the next Resolve re-reads definitions.
// Called by the override watcher on file changes.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[domain.WorkflowStep]*StepTemplate)
	r.mu.Unlock()
}

// loadContent loads raw yaml from override dirs or the embedded defaults
func (r *Registry) loadContent(name string) ([]byte, error) {
	for _, dir := range r.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, "steps/"+name)
}

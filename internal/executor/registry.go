package executor

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Registry maps language names and their aliases to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	aliases   map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		aliases:   make(map[string]string),
	}
}

// Register adds exec under language and any aliases. Names are
// case-insensitive and must not already be taken.
func (r *Registry) Register(language string, exec Executor, aliases ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(language)
	names := append([]string{name}, aliases...)
	for _, n := range names {
		n = strings.ToLower(n)
		if _, taken := r.aliases[n]; taken {
			return fmt.Errorf("language %q already registered", n)
		}
	}

	r.executors[name] = exec
	for _, n := range names {
		r.aliases[strings.ToLower(n)] = name
	}
	return nil
}

// Lookup returns the executor registered under name or one of its aliases.
func (r *Registry) Lookup(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, ok := r.aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return r.executors[canonical], true
}

// Resolve returns the canonical name for name or one of its aliases.
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, ok := r.aliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// Languages returns the canonical names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.executors))
	for name := range r.executors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close closes every registered executor that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, exec := range r.executors {
		if c, ok := exec.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

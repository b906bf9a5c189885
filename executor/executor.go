// Package executor ships the output-module contract and a registry binding
// action names to modules (spec.md §6.1, SPEC_FULL.md §4.1.E). Concrete
// output modules (file/pipe/HTTP/cloud emitters) are out of scope; this
// package carries the contract plus two reference modules used only by
// tests and the cmd/ demo: an in-memory recording module and an
// AMQP-publishing module.
package executor

import (
	"fmt"
	"sync"

	"github.com/syslogcore/engine/action"
)

// Registry binds action names to the action.Module implementation that
// backs them, generalized from the teacher's Executor/Registry CanHandle
// dispatch into a name-keyed map: action binding is static, decided at
// configuration load time, unlike the teacher's runtime type-sniffing
// CanHandle predicate.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]action.Module
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]action.Module)}
}

// Register binds name to module, replacing any existing binding.
func (r *Registry) Register(name string, module action.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[name] = module
}

// Get returns the module bound to name.
func (r *Registry) Get(name string) (action.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names lists every registered module name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for n := range r.modules {
		out = append(out, n)
	}
	return out
}

// ErrUnknownModule is returned when a configured action names a module the
// registry has no binding for.
var ErrUnknownModule = fmt.Errorf("executor: unknown module")

package realtime

import (
	"fmt"
	"sort"
	"sync"
)

// Built-in backend mode names.
const (
	ModeOpenAI     = "openai"
	ModeGrok       = "grok"
	ModeGemini     = "gemini"
	ModeElevenLabs = "elevenlabs"
)

// Factory creates an unconnected Client for one backend vendor.
type Factory func(cfg Config) (Client, error)

// Registry maps backend mode names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var globalRegistry = &Registry{factories: make(map[string]Factory)}

// Register adds a factory to the global registry. Typically called from
// init() in adapter files. Panics on duplicate names.
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// New builds a client for the named backend from the global registry.
func New(name string, cfg Config) (Client, error) {
	return globalRegistry.New(name, cfg)
}

// Modes lists registered backend names, sorted.
func Modes() []string {
	return globalRegistry.Modes()
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("realtime: backend %q already registered", name))
	}
	r.factories[name] = factory
}

func (r *Registry) New(name string, cfg Config) (Client, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("realtime: unknown backend %q (have %v)", name, r.Modes())
	}
	return factory(cfg)
}

func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package exec

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/config"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
)

// Factory builds a context provider from the executor configuration.
type Factory func(cfg config.ExecutorConfig, logger logging.Logger) (core.ContextProvider, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

func Register(name string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("backend already registered: %s", name)
	}
	registry[name] = factory
	return nil
}

// New builds the provider of the named backend.
func New(name string, cfg config.ExecutorConfig, logger logging.Logger) (core.ContextProvider, error) {
	mu.RLock()
	factory, exists := registry[name]
	mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("backend not found: %s (available: %v)", name, List())
	}
	return factory(cfg, logger)
}

func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func mustRegister(name string, factory Factory) {
	if err := Register(name, factory); err != nil {
		panic(err)
	}
}

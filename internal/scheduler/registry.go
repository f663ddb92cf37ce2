package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/brgmlab/hydropipe/internal/logging"
)

// Registry holds the asset DAG. Registration validates that dependencies
// exist and that no cycle is introduced; after that the graph is immutable
// enough to derive topological waves from.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]*Asset
	logger *logging.Logger
}

// NewRegistry builds an empty asset registry.
func NewRegistry() *Registry {
	return &Registry{
		assets: make(map[string]*Asset),
		logger: logging.GetLogger("scheduler.registry"),
	}
}

// Register adds an asset. Dependencies must be registered first and the
// result must stay acyclic.
func (r *Registry) Register(asset *Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if asset == nil {
		return fmt.Errorf("cannot register nil asset")
	}
	if asset.Name == "" {
		return fmt.Errorf("asset must have a non-empty name")
	}
	if asset.Producer == nil {
		return fmt.Errorf("asset %s has no producer", asset.Name)
	}
	if _, ok := r.assets[asset.Name]; ok {
		return fmt.Errorf("asset %s is already registered", asset.Name)
	}
	for _, dep := range asset.Deps {
		if _, ok := r.assets[dep]; !ok {
			return fmt.Errorf("dependency %s of asset %s is not registered", dep, asset.Name)
		}
	}
	if r.wouldCreateCycle(asset.Name, asset.Deps) {
		return fmt.Errorf("registering %s would create a circular dependency", asset.Name)
	}

	r.assets[asset.Name] = asset
	r.logger.Debug("Registered asset %s with %d dependencies", asset.Name, len(asset.Deps))
	return nil
}

func (r *Registry) wouldCreateCycle(name string, deps []string) bool {
	visited := make(map[string]bool)
	var walk func(deps []string) bool
	walk = func(deps []string) bool {
		for _, dep := range deps {
			if dep == name {
				return true
			}
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if a, ok := r.assets[dep]; ok && walk(a.Deps) {
				return true
			}
		}
		return false
	}
	return walk(deps)
}

// Get returns a registered asset.
func (r *Registry) Get(name string) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[name]
	return a, ok
}

// Names lists all registered assets, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.assets))
	for name := range r.assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand returns the dependency closure of the named assets.
func (r *Registry) Expand(names []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var visit func(name string) error
	visit = func(name string) error {
		if _, ok := seen[name]; ok {
			return nil
		}
		asset, ok := r.assets[name]
		if !ok {
			return fmt.Errorf("unknown asset %s", name)
		}
		seen[name] = struct{}{}
		for _, dep := range asset.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	closure := make([]string, 0, len(seen))
	for name := range seen {
		closure = append(closure, name)
	}
	sort.Strings(closure)
	return closure, nil
}

// Waves groups the dependency closure of names into topological levels:
// every asset in wave i depends only on assets in waves < i. Assets within
// a wave are independent and may run in parallel.
func (r *Registry) Waves(names []string) ([][]string, error) {
	closure, err := r.Expand(names)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	inClosure := make(map[string]struct{}, len(closure))
	for _, name := range closure {
		inClosure[name] = struct{}{}
	}

	depth := make(map[string]int)
	var level func(name string) int
	level = func(name string) int {
		if d, ok := depth[name]; ok {
			return d
		}
		max := 0
		for _, dep := range r.assets[name].Deps {
			if _, ok := inClosure[dep]; !ok {
				continue
			}
			if d := level(dep) + 1; d > max {
				max = d
			}
		}
		depth[name] = max
		return max
	}

	maxDepth := 0
	for _, name := range closure {
		if d := level(name); d > maxDepth {
			maxDepth = d
		}
	}

	waves := make([][]string, maxDepth+1)
	for _, name := range closure {
		waves[depth[name]] = append(waves[depth[name]], name)
	}
	for _, wave := range waves {
		sort.Strings(wave)
	}
	return waves, nil
}

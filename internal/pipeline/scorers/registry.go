package scorers

import (
	"fmt"
	"sort"
	"sync"

	"guardian/internal/config"
	"guardian/internal/pipeline"
)

// Constructor builds a fresh scorer instance for one camera
type Constructor func() pipeline.Scorer

// Registry manages available scorer constructors
type Registry struct {
	constructors map[string]Constructor
	mu           sync.RWMutex
}

// NewRegistry creates an empty scorer registry
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// NewDefaultRegistry returns a registry holding every built-in scorer
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := map[string]Constructor{
		config.ScorerStampede:  func() pipeline.Scorer { return NewStampedeScorer() },
		config.ScorerFireSmoke: func() pipeline.Scorer { return NewFireSmokeScorer() },
		config.ScorerFall:      func() pipeline.Scorer { return NewFallScorer() },
		config.ScorerRunning:   func() pipeline.Scorer { return NewRunningScorer() },
		config.ScorerPose:      func() pipeline.Scorer { return NewPoseScorer() },
	}
	for name, ctor := range builtins {
		// Names are constants; a failure here is a programming error
		if err := r.Register(name, ctor); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a scorer constructor to the registry
func (r *Registry) Register(name string, ctor Constructor) error {
	if ctor == nil {
		return fmt.Errorf("scorer constructor cannot be nil")
	}
	if name == "" {
		return fmt.Errorf("scorer name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("scorer %q already registered", name)
	}

	r.constructors[name] = ctor
	return nil
}

// Has reports whether a scorer is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[name]
	return ok
}

// Names returns the registered scorer names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates fresh scorers for the camera's enabled scorer list, in the
// canonical evaluation order. Unknown names are skipped.
func (r *Registry) Build(cfg *config.Effective) []pipeline.Scorer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]pipeline.Scorer, 0, len(cfg.Scorers))
	for _, name := range config.ScorerNames {
		if !cfg.HasScorer(name) {
			continue
		}
		if ctor, ok := r.constructors[name]; ok {
			result = append(result, ctor())
		}
	}
	return result
}

// Factory adapts the registry to a pipeline.ScorerFactory
func (r *Registry) Factory() pipeline.ScorerFactory {
	return r.Build
}

// Analyzer is the pipeline.AudioAnalyzerFactory for the built-in audio scorer
func Analyzer() pipeline.AudioAnalyzer {
	return NewAudioScorer()
}

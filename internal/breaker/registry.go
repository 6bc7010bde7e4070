package breaker

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry holds one breaker per named integration.
type Registry struct {
	breakers map[string]*Breaker
	defaults Config
	mutex    sync.RWMutex
	logger   *logrus.Logger
}

func NewRegistry(defaults Config, logger *logrus.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		logger:   logger,
	}
}

// Get returns the breaker for name, creating it from the registry
// defaults on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mutex.RLock()
	b, ok := r.breakers[name]
	r.mutex.RUnlock()
	if ok {
		return b
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}

	cfg := r.defaults
	cfg.Name = name
	b = New(cfg, r.logger)
	r.breakers[name] = b

	r.logger.WithFields(logrus.Fields{
		"integration":  name,
		"max_failures": b.maxFailures,
		"open_timeout": b.openTimeout.String(),
	}).Debug("Circuit breaker created")
	return b
}

// Configure creates the breaker for cfg.Name with its own failure
// classifier. Zero fields fall back to the registry defaults. An existing
// breaker of that name is returned unchanged.
func (r *Registry) Configure(cfg Config) *Breaker {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if b, ok := r.breakers[cfg.Name]; ok {
		return b
	}

	merged := r.defaults
	merged.Name = cfg.Name
	if cfg.MaxFailures > 0 {
		merged.MaxFailures = cfg.MaxFailures
	}
	if cfg.OpenTimeout > 0 {
		merged.OpenTimeout = cfg.OpenTimeout
	}
	if cfg.HalfOpenRequests > 0 {
		merged.HalfOpenRequests = cfg.HalfOpenRequests
	}
	if cfg.IsFailure != nil {
		merged.IsFailure = cfg.IsFailure
	}
	if cfg.OnStateChange != nil {
		merged.OnStateChange = cfg.OnStateChange
	}

	b := New(merged, r.logger)
	r.breakers[cfg.Name] = b
	return b
}

// Snapshots returns every breaker's state ordered by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mutex.RLock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	r.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Reset(name string) bool {
	r.mutex.RLock()
	b, ok := r.breakers[name]
	r.mutex.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	r.logger.WithField("integration", name).Info("Circuit breaker reset")
	return true
}

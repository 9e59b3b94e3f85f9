package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Checker is implemented by components that report their own health.
type Checker interface {
	Health() Status
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func() Status

// Health implements Checker.
func (f CheckerFunc) Health() Status { return f() }

// Monitor aggregates the health of named components.
type Monitor struct {
	name     string
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewMonitor creates a monitor reporting under name.
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:     name,
		checkers: make(map[string]Checker),
	}
}

// Register adds or replaces the checker for component.
func (m *Monitor) Register(component string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[component] = c
}

// Remove stops reporting component.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkers, component)
}

// Check polls every checker and aggregates the result.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	subs := make([]Status, 0, len(checkers))
	for name, c := range checkers {
		s := c.Health()
		s.Component = name
		subs = append(subs, s)
	}
	return Aggregate(m.name, subs)
}

// Handler serves the aggregate as JSON, with 503 when unhealthy.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.Check()
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

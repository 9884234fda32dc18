package health

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Checker reports the health of one dependency.
type Checker interface {
	Check(ctx context.Context) Status
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) Status

// Check implements Checker.
func (f CheckFunc) Check(ctx context.Context) Status { return f(ctx) }

// Monitor runs registered checks and aggregates them.
type Monitor struct {
	mu      sync.RWMutex
	checks  map[string]Checker
	timeout time.Duration
}

// NewMonitor creates a monitor. Each check gets at most timeout.
func NewMonitor(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Monitor{checks: make(map[string]Checker), timeout: timeout}
}

// Register adds or replaces the check for name.
func (m *Monitor) Register(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = c
}

// Remove removes a check.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Names returns the registered check names, sorted.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Check runs every check concurrently and aggregates the results under
// systemName. A check that outlives the timeout is reported unhealthy.
func (m *Monitor) Check(ctx context.Context, systemName string) Status {
	m.mu.RLock()
	checks := make(map[string]Checker, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
	}
	m.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make([]Status, 0, len(checks))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, c := range checks {
		name, c := name, c
		g.Go(func() error {
			st := m.run(gctx, name, c)
			mu.Lock()
			results = append(results, st)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(results, func(a, b Status) int { return strings.Compare(a.Component, b.Component) })
	return Aggregate(systemName, results)
}

func (m *Monitor) run(ctx context.Context, name string, c Checker) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan Status, 1)
	go func() { done <- c.Check(ctx) }()

	select {
	case st := <-done:
		st.Component = name
		if st.Timestamp.IsZero() {
			st.Timestamp = time.Now()
		}
		return st
	case <-ctx.Done():
		return NewUnhealthy(name, "health check timed out")
	}
}

// Package health runs periodic dependency checks and serves the aggregate
// over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckFunc probes one dependency. It must respect the context deadline.
type CheckFunc func(ctx context.Context) error

// CheckResult is the last observed state of one check.
type CheckResult struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Manager runs registered checks on an interval and caches the results so
// the health endpoint never blocks on a slow dependency.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	mu      sync.RWMutex
	checks  map[string]CheckFunc
	results map[string]CheckResult

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger,
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		checks:   make(map[string]CheckFunc),
		results:  make(map[string]CheckResult),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a named check. Register before Start.
func (m *Manager) Register(name string, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = fn
}

// Start runs the check loop until Stop is called.
func (m *Manager) Start() {
	m.runAll()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.runAll()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) runAll() {
	m.mu.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	for name, fn := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		err := fn(ctx)
		cancel()

		result := CheckResult{Healthy: err == nil, CheckedAt: time.Now()}
		if err != nil {
			result.Error = err.Error()
			m.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
		}
		m.mu.Lock()
		m.results[name] = result
		m.mu.Unlock()
	}
}

// Healthy reports whether every registered check last passed.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.results {
		if !r.Healthy {
			return false
		}
	}
	return true
}

// Report returns a copy of the latest results.
func (m *Manager) Report() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.results))
	for name, r := range m.results {
		out[name] = r
	}
	return out
}

// Handler serves the aggregate state: 200 when all checks pass, 503
// otherwise, with the per-check detail as JSON.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !m.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"healthy": m.Healthy(),
			"checks":  m.Report(),
		})
	}
}

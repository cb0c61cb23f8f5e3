package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is invoked with the freshly validated configuration after a
// successful reload.
type ChangeHandler func(cfg *ResearchConfig)

// Manager watches the research config file and hot-reloads it on change.
// Invalid edits are rejected and the previous configuration stays active.
type Manager struct {
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	current  *ResearchConfig
	handlers []ChangeHandler

	// Editors often replace files rather than writing in place, producing
	// bursts of events; reloads within debounce of each other collapse.
	debounce time.Duration
}

// NewManager loads the initial configuration and prepares the watcher.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}

	return &Manager{
		path:     path,
		logger:   logger,
		watcher:  watcher,
		stopCh:   make(chan struct{}),
		current:  cfg,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Current returns the active configuration.
func (m *Manager) Current() *ResearchConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler called after each successful reload.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching the config file's directory until ctx is cancelled
// or Stop is called. Watching the directory rather than the file survives
// rename-based saves.
func (m *Manager) Start(ctx context.Context) error {
	if m.path == "" {
		m.logger.Info("No config file, hot reload disabled")
		return nil
	}
	if err := m.watcher.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", m.path, err)
	}

	go func() {
		var lastReload time.Time
		for {
			select {
			case event, ok := <-m.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if time.Since(lastReload) < m.debounce {
					continue
				}
				lastReload = time.Now()
				m.reload()
			case err, ok := <-m.watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("Config watcher error", zap.Error(err))
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}()

	m.logger.Info("Config hot-reload active", zap.String("path", m.path))
	return nil
}

// Stop terminates the watcher.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		_ = m.watcher.Close()
	})
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		m.logger.Warn("Rejected config reload, keeping previous configuration",
			zap.String("path", m.path),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	m.current = cfg
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("Reloaded research configuration",
		zap.String("search_backend", cfg.SearchBackend),
		zap.Int("max_search_depth", cfg.MaxSearchDepth),
	)
	for _, h := range handlers {
		h(cfg)
	}
}

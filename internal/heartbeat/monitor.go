// Package heartbeat tracks liveness between a superior and its subordinates.
// The superior side keeps one watchdog per subordinate; the subordinate side
// polls its own record on the superior and pulls assignment changes.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"troops/internal/loop"
)

// DefaultWindow is how long a subordinate may stay silent before eviction.
const DefaultWindow = 120 * time.Second

// Monitor owns the liveness watchdogs of one superior.
type Monitor struct {
	window time.Duration
	evict  func(id string)
	log    *slog.Logger

	mu       sync.Mutex
	watchers map[string]*loop.Task
}

// NewMonitor returns a monitor that calls evict once for every subordinate
// whose window elapses without a beat.
func NewMonitor(window time.Duration, evict func(id string), logger *slog.Logger) *Monitor {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		window:   window,
		evict:    evict,
		log:      logger,
		watchers: make(map[string]*loop.Task),
	}
}

// Watch starts the watchdog of id. It reports false if one is already running.
func (m *Monitor) Watch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[id]; ok {
		return false
	}
	var task *loop.Task
	task = loop.Watch("heartbeat:"+id, m.window, func() {
		m.mu.Lock()
		current := m.watchers[id] == task
		if current {
			delete(m.watchers, id)
		}
		m.mu.Unlock()
		if !current {
			return
		}
		m.log.Info("subordinate missed heartbeat window", "subordinate", id, "window", m.window)
		if m.evict != nil {
			m.evict(id)
		}
	})
	m.watchers[id] = task
	return true
}

// Beat restarts the window of a watched subordinate. Unknown ids report
// false and are never added.
func (m *Monitor) Beat(id string) bool {
	m.mu.Lock()
	task, ok := m.watchers[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return task.Reset()
}

// Forget stops the watchdog of id without evicting.
func (m *Monitor) Forget(id string) bool {
	m.mu.Lock()
	task, ok := m.watchers[id]
	delete(m.watchers, id)
	m.mu.Unlock()
	if ok {
		task.Stop()
	}
	return ok
}

// Watching reports whether id has a running watchdog.
func (m *Monitor) Watching(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watchers[id]
	return ok
}

// Stop ends every watchdog without evicting.
func (m *Monitor) Stop() {
	m.mu.Lock()
	tasks := m.watchers
	m.watchers = make(map[string]*loop.Task)
	m.mu.Unlock()
	for _, t := range tasks {
		t.Stop()
	}
}

package cache

import (
	"log/slog"
	"sync"
	"time"
)

// Cleaner is implemented by caches that can drop their expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager runs one background sweep over every registered cache so each
// cache does not need its own goroutine.
type Manager struct {
	mu     sync.Mutex
	caches []Cleaner

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewManager() *Manager {
	return &Manager{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Register adds a cache to the sweep.
func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// StartCleanup sweeps expired entries at the given interval until Stop
// is called. Call it once, after registering the caches.
func (m *Manager) StartCleanup(interval time.Duration) {
	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.quit:
				return
			}
		}
	}()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	caches := make([]Cleaner, len(m.caches))
	copy(caches, m.caches)
	m.mu.Unlock()

	removed := 0
	for _, c := range caches {
		removed += c.CleanExpired()
	}
	if removed > 0 {
		slog.Debug("Cache sweep removed expired entries", "removed", removed)
	}
}

// Stop ends the sweep goroutine and waits for it to exit. Safe to call
// more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.quit)
		<-m.done
	})
}

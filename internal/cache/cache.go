// Package cache provides an in-process TTL cache and a janitor that
// sweeps expired entries.
package cache

import (
	"time"

	"kesefly/internal/log"
)

type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// DeletePrefix drops every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(prefix string) int
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

type statsReporter interface {
	Stats() Stats
}

// Manager periodically sweeps registered caches.
type Manager struct {
	caches      []Cleaner
	logger      *log.Logger
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

func NewManager(logger *log.Logger) *Manager {
	return &Manager{
		logger:      logger.WithComponent(log.ComponentCache),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

func (m *Manager) Register(c Cleaner) {
	m.caches = append(m.caches, c)
}

func (m *Manager) StartCleanup(interval time.Duration) {
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCleanup:
			return
		}
	}
}

// sweep runs one pass over every cache and logs the combined traffic.
func (m *Manager) sweep() int {
	removed := 0
	var total Stats
	for _, c := range m.caches {
		removed += c.CleanExpired()
		if r, ok := c.(statsReporter); ok {
			s := r.Stats()
			total.Hits += s.Hits
			total.Misses += s.Misses
			total.Evictions += s.Evictions
		}
	}
	if removed > 0 {
		m.logger.Debug("Expired cache entries removed",
			"removed", removed,
			"hits", total.Hits,
			"misses", total.Misses,
			"evictions", total.Evictions)
	}
	return removed
}

// Stop ends the sweep loop. It must be called at most once, after
// StartCleanup.
func (m *Manager) Stop() {
	close(m.stopCleanup)
	<-m.cleanupDone
}

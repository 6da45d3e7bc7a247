// Package cache keeps recently computed account summaries so repeated reads
// of the same account do not hit the ledger store.
package cache

import (
	"sync"
	"time"

	"dailybudget/internal/core"
)

// Counter is satisfied by prometheus counters.
type Counter interface {
	Inc()
}

type nopCounter struct{}

func (nopCounter) Inc() {}

// SummaryCache maps account ids to summaries. Any mutation of an account
// or one of its spends must Invalidate that account.
//
// Readers that fill the cache after a miss take a Generation before reading
// the store and store the result with SetIfGeneration, so a summary read
// before an Invalidate is never cached after it.
type SummaryCache struct {
	lru    *LRU[int64, core.Summary]
	hits   Counter
	misses Counter

	mu   sync.Mutex
	gens map[int64]uint64
}

func NewSummaryCache(maxSize int, ttl time.Duration, hits, misses Counter) *SummaryCache {
	if hits == nil {
		hits = nopCounter{}
	}
	if misses == nil {
		misses = nopCounter{}
	}
	return &SummaryCache{
		lru:    NewLRU[int64, core.Summary](maxSize, ttl),
		hits:   hits,
		misses: misses,
		gens:   make(map[int64]uint64),
	}
}

func (c *SummaryCache) Get(accountID int64) (core.Summary, bool) {
	sum, ok := c.lru.Get(accountID)
	if ok {
		c.hits.Inc()
	} else {
		c.misses.Inc()
	}
	return sum, ok
}

// Generation returns the account's invalidation count.
func (c *SummaryCache) Generation(accountID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[accountID]
}

// SetIfGeneration caches sum unless the account was invalidated since gen
// was taken. It reports whether sum was stored.
func (c *SummaryCache) SetIfGeneration(accountID int64, gen uint64, sum core.Summary) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[accountID] != gen {
		return false
	}
	c.lru.Set(accountID, sum)
	return true
}

func (c *SummaryCache) Invalidate(accountID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[accountID]++
	c.lru.Delete(accountID)
}

func (c *SummaryCache) Size() int { return c.lru.Len() }

// CleanExpired implements Cleaner.
func (c *SummaryCache) CleanExpired() int { return c.lru.CleanExpired() }

// Manager periodically sweeps expired entries out of registered caches.
type Manager struct {
	caches      []Cleaner
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	onClean     func(removed int)
}

type Cleaner interface {
	CleanExpired() int
}

// NewManager returns a manager; onClean, if set, receives the number of
// entries removed by each sweep that removed any.
func NewManager(onClean func(removed int)) *Manager {
	return &Manager{
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		onClean:     onClean,
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

func (m *Manager) sweep() int {
	total := 0
	for _, c := range m.caches {
		total += c.CleanExpired()
	}
	if total > 0 && m.onClean != nil {
		m.onClean(total)
	}
	return total
}

// Stop ends the cleanup goroutine. It must only be called after StartCleanup.
func (m *Manager) Stop() {
	close(m.stopCleanup)
	<-m.cleanupDone
}

package snapshot

import (
	"context"
	"sync"

	"tradedash/models"
)

// Cache keeps the most recently committed snapshot. Account and positions are
// only ever replaced together.
type Cache struct {
	mu      sync.RWMutex
	current Snapshot
	loaded  bool
}

func NewCache() *Cache {
	return &Cache{current: Snapshot{Positions: []models.Position{}}}
}

// Apply commits s as the new snapshot in one step.
func (c *Cache) Apply(s Snapshot) {
	positions := make([]models.Position, len(s.Positions))
	copy(positions, s.Positions)

	c.mu.Lock()
	c.current = Snapshot{Account: s.Account.Clone(), Positions: positions, FetchedAt: s.FetchedAt}
	c.loaded = true
	c.mu.Unlock()
}

// Refresh fetches from src and commits only when the whole fetch succeeded.
// On error the cache is left as it was. It is the synchronous form of the
// path the coordinator runs split in two: Fetch off the event loop, then
// Apply on it once the result arrives.
func (c *Cache) Refresh(ctx context.Context, src Source) (Snapshot, error) {
	s, err := src.Fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	c.Apply(s)
	return c.Snapshot(), nil
}

// Snapshot returns a copy of the committed snapshot.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	positions := make([]models.Position, len(c.current.Positions))
	copy(positions, c.current.Positions)
	return Snapshot{Account: c.current.Account.Clone(), Positions: positions, FetchedAt: c.current.FetchedAt}
}

// Loaded reports whether any snapshot has been committed yet.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

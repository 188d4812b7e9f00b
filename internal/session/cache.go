package session

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mesh-intelligence/codecards/pkg/types"
)

// cacheSize bounds the number of cards held across transitions. Transitions
// are serialized, so more than one live entry is rare.
const cacheSize = 8

// ContentCache holds editor content for cards involved in a mode transition.
// While an entry exists for a card, a synchronization pass must prefer it
// over whatever storage returns.
type ContentCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, types.CacheEntry]
	now     func() time.Time
}

// NewContentCache returns an empty cache.
func NewContentCache() *ContentCache {
	entries, err := lru.New[string, types.CacheEntry](cacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &ContentCache{entries: entries, now: time.Now}
}

// Put records state for cardID on behalf of the given transition generation,
// replacing any earlier entry.
func (c *ContentCache) Put(cardID string, state types.EditorState, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(cardID, types.CacheEntry{
		CardID:     cardID,
		State:      state,
		WrittenAt:  c.now(),
		Generation: generation,
	})
}

// Get returns the cached state for cardID.
func (c *ContentCache) Get(cardID string) (types.EditorState, bool) {
	e, ok := c.Entry(cardID)
	return e.State, ok
}

// Entry returns the full cache entry for cardID.
func (c *ContentCache) Entry(cardID string) (types.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(cardID)
}

// Clear drops the entry for cardID, if any.
func (c *ContentCache) Clear(cardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(cardID)
}

// ClearIf drops the entry for cardID only when it was written by the given
// generation. A later transition that rewrote the entry keeps it.
func (c *ContentCache) ClearIf(cardID string, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(cardID)
	if !ok || e.Generation != generation {
		return false
	}
	c.entries.Remove(cardID)
	return true
}

// Purge drops every entry.
func (c *ContentCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Len returns the number of live entries.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

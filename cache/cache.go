package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opd-ai/meshlink/transport"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultStaleness is how long a resolved path is trusted.
	DefaultStaleness = 5 * time.Minute
	// DefaultCapacity bounds the number of cached peers.
	DefaultCapacity = 1024
)

// Entry is one resolved path. Entries are values; mutating a returned Entry
// does not affect the cache.
type Entry struct {
	PeerID        string
	Address       transport.Address
	IsDirect      bool
	EstablishedAt time.Time
}

// ConnectionCache holds at most one Entry per peer id.
type ConnectionCache struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, Entry]
	clock     clock.Clock
	staleness time.Duration
}

// New creates a cache. Zero capacity or staleness select the defaults; a nil
// clock selects the wall clock.
func New(capacity int, staleness time.Duration, clk clock.Clock) (*ConnectionCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	if clk == nil {
		clk = clock.New()
	}

	entries, err := lru.New[string, Entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection cache: %w", err)
	}

	return &ConnectionCache{
		entries:   entries,
		clock:     clk,
		staleness: staleness,
	}, nil
}

// Get returns the entry for peerID. A stale entry is removed and reported
// as absent.
func (c *ConnectionCache) Get(peerID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(peerID)
	if !ok {
		return Entry{}, false
	}

	if c.clock.Since(entry.EstablishedAt) > c.staleness {
		c.entries.Remove(peerID)
		logrus.WithFields(logrus.Fields{
			"component": "ConnectionCache",
			"peer_id":   peerID,
			"age":       c.clock.Since(entry.EstablishedAt).String(),
		}).Info("P2P connection is stale, will re-establish")
		return Entry{}, false
	}

	return entry, true
}

// Put records a freshly resolved path for peerID, replacing any previous one.
func (c *ConnectionCache) Put(peerID string, addr transport.Address, isDirect bool) Entry {
	entry := Entry{
		PeerID:        peerID,
		Address:       addr,
		IsDirect:      isDirect,
		EstablishedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.entries.Add(peerID, entry)
	c.mu.Unlock()

	return entry
}

// Delete removes the entry for peerID and reports whether one existed.
func (c *ConnectionCache) Delete(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(peerID)
}

// Len returns the number of entries, stale ones included.
func (c *ConnectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Staleness returns the staleness window.
func (c *ConnectionCache) Staleness() time.Duration {
	return c.staleness
}

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/meshlink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddr = transport.Address{IP: "203.0.113.5", Port: 40000}

func newTestCache(t *testing.T, capacity int) (*ConnectionCache, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	c, err := New(capacity, DefaultStaleness, mock)
	require.NoError(t, err)
	return c, mock
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(0, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultStaleness, c.Staleness())
	assert.NotNil(t, c.clock)
	assert.Zero(t, c.Len())
}

func TestConnectionCache_PutGet(t *testing.T) {
	c, mock := newTestCache(t, 0)

	stored := c.Put("peer-1", testAddr, false)
	assert.Equal(t, mock.Now(), stored.EstablishedAt)

	entry, ok := c.Get("peer-1")
	require.True(t, ok)
	assert.Equal(t, Entry{PeerID: "peer-1", Address: testAddr, IsDirect: false, EstablishedAt: mock.Now()}, entry)

	_, ok = c.Get("peer-2")
	assert.False(t, ok)
}

func TestConnectionCache_OneEntryPerPeer(t *testing.T) {
	c, _ := newTestCache(t, 0)
	replacement := transport.Address{IP: "10.0.0.7", Port: 17778}

	c.Put("peer-1", testAddr, false)
	c.Put("peer-1", replacement, true)

	assert.Equal(t, 1, c.Len())
	entry, ok := c.Get("peer-1")
	require.True(t, ok)
	assert.Equal(t, replacement, entry.Address)
	assert.True(t, entry.IsDirect)
}

func TestConnectionCache_Staleness(t *testing.T) {
	c, mock := newTestCache(t, 0)
	c.Put("peer-1", testAddr, true)

	mock.Add(DefaultStaleness)
	_, ok := c.Get("peer-1")
	assert.True(t, ok, "entry at exactly the staleness window is still fresh")

	mock.Add(time.Nanosecond)
	_, ok = c.Get("peer-1")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "stale entry is evicted on lookup")
}

func TestConnectionCache_RefreshResetsAge(t *testing.T) {
	c, mock := newTestCache(t, 0)
	c.Put("peer-1", testAddr, true)

	mock.Add(4 * time.Minute)
	c.Put("peer-1", testAddr, true)
	mock.Add(4 * time.Minute)

	_, ok := c.Get("peer-1")
	assert.True(t, ok)
}

func TestConnectionCache_Delete(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.Put("peer-1", testAddr, false)

	assert.True(t, c.Delete("peer-1"))
	assert.False(t, c.Delete("peer-1"))

	_, ok := c.Get("peer-1")
	assert.False(t, ok)
}

func TestConnectionCache_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t, 2)

	c.Put("peer-1", testAddr, false)
	c.Put("peer-2", testAddr, false)
	_, _ = c.Get("peer-1")
	c.Put("peer-3", testAddr, false)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("peer-2")
	assert.False(t, ok)
	_, ok = c.Get("peer-1")
	assert.True(t, ok)
}

func TestConnectionCache_ReturnedEntryIsACopy(t *testing.T) {
	c, _ := newTestCache(t, 0)
	c.Put("peer-1", testAddr, false)

	entry, _ := c.Get("peer-1")
	entry.Address.Port = 1

	again, _ := c.Get("peer-1")
	assert.Equal(t, testAddr, again.Address)
}

func TestConnectionCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"peer-1", "peer-2"}[i%2]
			c.Put(id, testAddr, i%2 == 0)
			c.Get(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, c.Len())
}

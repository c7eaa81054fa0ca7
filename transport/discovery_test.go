package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
	addr  Address
	err   error
}

func (s *countingSource) DiscoverPublicAddress(ctx context.Context) (Address, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Address{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Address{}, s.err
	}
	return s.addr, nil
}

func TestDiscovery_MemoizesPublicAddress(t *testing.T) {
	dialer := NewMockDialer()
	mapped := Address{IP: "198.51.100.7", Port: 54321}
	dialer.Respond(Address{IP: "192.0.2.1", Port: 3478}, STUNResponder(mapped))

	client := newTestSTUNClient(t, []string{"192.0.2.1"}, dialer)
	discovery := NewDiscovery(client, 17778, "")

	first, err := discovery.DiscoverPublicAddress(context.Background())
	require.NoError(t, err)
	dials := dialer.DialCount()
	sent := dialer.SentTotal()

	second, err := discovery.DiscoverPublicAddress(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, dials, dialer.DialCount(), "second call must not touch the network")
	assert.Equal(t, sent, dialer.SentTotal())
}

func TestDiscovery_FailureIsNotMemoized(t *testing.T) {
	source := &countingSource{err: ErrSTUNExhausted}
	discovery := NewDiscovery(source, 17778, "")

	_, err := discovery.DiscoverPublicAddress(context.Background())
	assert.ErrorIs(t, err, ErrSTUNExhausted)

	source.err = nil
	source.addr = Address{IP: "198.51.100.7", Port: 1000}
	addr, err := discovery.DiscoverPublicAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, source.addr, addr)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestDiscovery_ConcurrentCallersShareOneSweep(t *testing.T) {
	source := &countingSource{delay: 50 * time.Millisecond, addr: Address{IP: "198.51.100.7", Port: 1000}}
	discovery := NewDiscovery(source, 17778, "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := discovery.DiscoverPublicAddress(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, source.addr, addr)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
}

func TestDiscovery_SharedSweepOutlivesFirstCaller(t *testing.T) {
	source := &countingSource{delay: 200 * time.Millisecond, addr: Address{IP: "198.51.100.7", Port: 1000}}
	discovery := NewDiscovery(source, 17778, "")

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var (
		wg              sync.WaitGroup
		shortErr, bgErr error
		bgAddr          Address
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, shortErr = discovery.DiscoverPublicAddress(shortCtx)
	}()
	// Let the short-deadline caller start the sweep.
	require.Eventually(t, func() bool { return source.calls.Load() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		bgAddr, bgErr = discovery.DiscoverPublicAddress(context.Background())
	}()
	wg.Wait()

	assert.ErrorIs(t, shortErr, context.DeadlineExceeded)
	require.NoError(t, bgErr)
	assert.Equal(t, source.addr, bgAddr)
	assert.Equal(t, int32(1), source.calls.Load(), "both callers shared one sweep")

	addr, err := discovery.DiscoverPublicAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, source.addr, addr)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestDiscovery_CallerStopsWaitingOnCancel(t *testing.T) {
	source := &countingSource{delay: time.Second, addr: Address{IP: "198.51.100.7", Port: 1000}}
	discovery := NewDiscovery(source, 17778, "")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := discovery.DiscoverPublicAddress(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDiscovery_PrivateAddressPrecedence(t *testing.T) {
	t.Run("loopback fallback", func(t *testing.T) {
		d := NewDiscovery(&countingSource{}, 17778, "")
		assert.Equal(t, Address{IP: "127.0.0.1", Port: 17778}, d.PrivateAddress())
	})

	t.Run("detected ip", func(t *testing.T) {
		d := NewDiscovery(&countingSource{}, 17778, "")
		assert.True(t, d.SetLocalIP("192.168.1.10"))
		assert.Equal(t, Address{IP: "192.168.1.10", Port: 17778}, d.PrivateAddress())
	})

	t.Run("override wins over detected", func(t *testing.T) {
		d := NewDiscovery(&countingSource{}, 17778, "10.0.5.9")
		d.SetLocalIP("192.168.1.10")
		assert.Equal(t, Address{IP: "10.0.5.9", Port: 17778}, d.PrivateAddress())
	})
}

func TestDiscovery_SetLocalIPIgnoresUnspecified(t *testing.T) {
	d := NewDiscovery(&countingSource{}, 17778, "")
	d.SetLocalIP("192.168.1.10")

	for _, ip := range []string{"", "0.0.0.0", "::"} {
		assert.False(t, d.SetLocalIP(ip), "ip %q", ip)
	}
	assert.Equal(t, "192.168.1.10", d.PrivateAddress().IP)
}

func TestDiscovery_SetLocalIPInvalidatesMemo(t *testing.T) {
	source := &countingSource{addr: Address{IP: "198.51.100.7", Port: 1000}}
	d := NewDiscovery(source, 17778, "")

	_, err := d.DiscoverPublicAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", d.PrivateAddress().IP)

	d.SetLocalIP("10.1.2.3")
	assert.Equal(t, "10.1.2.3", d.PrivateAddress().IP)

	_, err = d.DiscoverPublicAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestDiscovery_ListenPort(t *testing.T) {
	d := NewDiscovery(&countingSource{err: errors.New("unused")}, 4242, "")
	assert.Equal(t, uint16(4242), d.ListenPort())
}

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newCache(ttl time.Duration) (*ShardedTTLCache[string], *fakeNow) {
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	c := NewShardedTTLCache[string](ttl)
	c.now = clock.Now
	return c, clock
}

func TestGetExpires(t *testing.T) {
	c, clock := newCache(time.Minute)
	c.Set("k", "v")

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Stats().Expired)
	assert.Equal(t, 1, c.Cleanup())
	assert.Equal(t, 0, c.Len())
}

func TestTakeConsumesOnce(t *testing.T) {
	c, _ := newCache(time.Minute)
	c.Set("nonce", "abc")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Take("nonce"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestShardsSpread(t *testing.T) {
	c, _ := newCache(time.Hour)
	for i := 0; i < 256; i++ {
		c.Set(fmt.Sprintf("key-%d", i), "x")
	}
	stats := c.Stats()
	assert.Equal(t, 256, stats.TotalItems)
	used := 0
	for _, n := range stats.ShardCounts {
		if n > 0 {
			used++
		}
	}
	assert.Greater(t, used, numShards/2)

	c.Delete("key-1")
	assert.Equal(t, 255, c.Len())
}

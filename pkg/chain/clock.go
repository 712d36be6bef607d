package chain

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock reports unix seconds adjusted to the latest block timestamp. Until the first
// successful sync it returns local time.
type Clock struct {
	backend      Backend
	syncInterval time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	offset   int64 // seconds, chain - local
	lastSync time.Time
}

func NewClock(backend Backend, syncInterval time.Duration) *Clock {
	if syncInterval <= 0 {
		syncInterval = time.Minute
	}
	return &Clock{backend: backend, syncInterval: syncInterval, now: time.Now}
}

// Start syncs once and then periodically until ctx is done.
func (c *Clock) Start(ctx context.Context) {
	if err := c.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("initial chain time sync failed; using local time")
	}
	go func() {
		ticker := time.NewTicker(c.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Sync(ctx); err != nil {
					log.Warn().Err(err).Msg("chain time sync failed")
				}
			}
		}
	}()
}

// Sync reads the latest header and stores the offset.
func (c *Clock) Sync(ctx context.Context) error {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	local := c.now().Unix()
	offset := int64(header.Time) - local

	c.mu.Lock()
	c.offset = offset
	c.lastSync = c.now()
	c.mu.Unlock()

	log.Debug().Int64("offset_s", offset).Uint64("block_time", header.Time).Msg("chain time synced")
	return nil
}

func (c *Clock) Now() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Unix() + c.offset
}

func (c *Clock) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

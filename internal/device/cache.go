package device

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultStateWindow  = 500 * time.Millisecond
	DefaultStateTTL     = time.Minute
	DefaultFetchTimeout = 2 * time.Second
)

type cacheEntry struct {
	state    *PlaybackState
	storedAt time.Time
}

// StateCache coalesces device state polls into fixed time windows. Every
// caller inside one window observes the same snapshot.
type StateCache struct {
	fetcher StateFetcher
	logger  zerolog.Logger

	now     func() time.Time
	window  time.Duration
	ttl     time.Duration
	timeout time.Duration

	mu      sync.Mutex
	entries map[int64]cacheEntry
	group   singleflight.Group
}

type CacheOption func(*StateCache)

func WithClock(now func() time.Time) CacheOption {
	return func(c *StateCache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithWindow(window time.Duration) CacheOption {
	return func(c *StateCache) {
		if window > 0 {
			c.window = window
		}
	}
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *StateCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithFetchTimeout(timeout time.Duration) CacheOption {
	return func(c *StateCache) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func NewStateCache(fetcher StateFetcher, logger zerolog.Logger, opts ...CacheOption) *StateCache {
	c := &StateCache{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "device_state_cache").Logger(),
		now:     time.Now,
		window:  DefaultStateWindow,
		ttl:     DefaultStateTTL,
		timeout: DefaultFetchTimeout,
		entries: make(map[int64]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the device state for the current window, fetching it at most
// once per window. It returns nil when the device cannot be reached.
func (c *StateCache) State(ctx context.Context) *PlaybackState {
	now := c.now()
	key := c.windowKey(now)

	if state, ok := c.lookup(key, now); ok {
		return state
	}

	v, _, _ := c.group.Do(strconv.FormatInt(key, 10), func() (any, error) {
		if state, ok := c.lookup(key, c.now()); ok {
			return state, nil
		}

		// the fetch is shared by every caller in the window
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		fetched, err := c.fetcher.FetchState(fetchCtx)
		if err != nil {
			c.logger.Warn().Err(err).Int64("window", key).Msg("device state unavailable")
			return (*PlaybackState)(nil), nil
		}

		state := &fetched
		c.mu.Lock()
		c.entries[key] = cacheEntry{state: state, storedAt: c.now()}
		c.mu.Unlock()
		return state, nil
	})

	state, _ := v.(*PlaybackState)
	return state
}

func (c *StateCache) CurrentPlayID(ctx context.Context) string {
	return c.State(ctx).CurrentPlayID()
}

func (c *StateCache) RemainingTime(ctx context.Context) int {
	return c.State(ctx).RemainingSeconds()
}

// Len reports the number of live entries.
func (c *StateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(c.now())
	return len(c.entries)
}

func (c *StateCache) windowKey(t time.Time) int64 {
	return t.UnixMilli() / max(1, c.window.Milliseconds())
}

func (c *StateCache) lookup(key int64, now time.Time) (*PlaybackState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(now)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.state, true
}

func (c *StateCache) evictLocked(now time.Time) {
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
}

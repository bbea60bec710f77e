package wsbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lmittmann/tint"
	"github.com/sony/gobreaker"
)

const (
	cacheBackendDatabase = "database"
	cacheBackendRedis    = "redis"
	cacheBackendNone     = "none"
)

// Reasons reported by TierFallbackError
const (
	fallbackReasonUnconfigured = "unconfigured"
	fallbackReasonRemoteError  = "remote_error"
	fallbackReasonBreakerOpen  = "breaker_open"
)

var ErrInvalidCachedPage = errors.New("invalid cached page")

// CachedPage is the stored state of a multi-page result, keyed by the
// ID of the interaction that produced it.
type CachedPage struct {
	UserID     string   `json:"user_id"`
	Title      string   `json:"title"`
	Footer     string   `json:"footer"`
	TotalPages int      `json:"total_pages"`
	Pages      []string `json:"content"`
}

func (c CachedPage) validate() error {
	if c.TotalPages < 1 {
		return fmt.Errorf("%w: total_pages must be >= 1", ErrInvalidCachedPage)
	}
	if c.TotalPages != len(c.Pages) {
		return fmt.Errorf(
			"%w: total_pages=%d but got %d pages",
			ErrInvalidCachedPage,
			c.TotalPages,
			len(c.Pages),
		)
	}
	return nil
}

// PageStore is the durable tier of a PageCache. Values are
// JSON-encoded CachedPage records.
type PageStore interface {
	// Upsert writes value under key, replacing any existing value
	Upsert(ctx context.Context, key string, value string) error

	// SelectByKey returns the value stored under key. A missing key
	// returns false and a nil error.
	SelectByKey(ctx context.Context, key string) (string, bool, error)

	// Name identifies the backend in logs and health checks
	Name() string
}

// TierFallbackError is returned by PageCache.Put when the record was
// written to the local tier instead of the durable tier.
type TierFallbackError struct {
	Reason string
	Err    error
}

func (e *TierFallbackError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("page cache fell back to local tier (%s)", e.Reason)
	}
	return fmt.Sprintf(
		"page cache fell back to local tier (%s): %s",
		e.Reason,
		e.Err.Error(),
	)
}

func (e *TierFallbackError) Unwrap() error {
	return e.Err
}

// PageCache stores CachedPage records in a durable PageStore when one
// is configured and reachable, falling back to an in-process,
// expiring LRU otherwise. Remote calls go through a circuit breaker so
// an unreachable store doesn't add its timeout to every interaction.
type PageCache struct {
	store   PageStore
	breaker *gobreaker.CircuitBreaker
	local   *expirable.LRU[string, CachedPage]
	timeout time.Duration
	logger  *slog.Logger
}

// CacheStats is reported by the health check endpoint
type CacheStats struct {
	Backend      string `json:"backend"`
	BreakerState string `json:"breaker_state,omitempty"`
	LocalEntries int    `json:"local_entries"`
}

// NewPageCache creates a PageCache. store may be nil, in which case
// only the local tier is used.
func NewPageCache(store PageStore, cfg CacheConfig, logger *slog.Logger) *PageCache {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.LocalSize
	if size <= 0 {
		size = DefaultCacheLocalSize
	}
	ttl := cfg.LocalTTL
	if ttl <= 0 {
		ttl = DefaultCacheLocalTTL
	}
	timeout := cfg.RemoteTimeout
	if timeout <= 0 {
		timeout = DefaultCacheRemoteTimeout
	}

	c := &PageCache{
		store:   store,
		local:   expirable.NewLRU[string, CachedPage](size, nil, ttl),
		timeout: timeout,
		logger:  logger,
	}

	if store != nil {
		trip := cfg.BreakerTrip
		if trip == 0 {
			trip = DefaultCacheBreakerTrip
		}
		c.breaker = gobreaker.NewCircuitBreaker(
			gobreaker.Settings{
				Name:        "page_store_" + store.Name(),
				MaxRequests: 1,
				Timeout:     cfg.BreakerReset,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= trip
				},
				OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
					logger.Warn(
						"page store circuit breaker state changed",
						"breaker", name,
						"from", from.String(),
						"to", to.String(),
					)
				},
			},
		)
	}
	return c
}

// Put stores page under key. A nil error means the durable tier has
// the record. A *TierFallbackError means it was stored locally instead.
// Any other error means the page was rejected and nothing was stored.
func (c *PageCache) Put(ctx context.Context, key string, page CachedPage) error {
	if err := page.validate(); err != nil {
		return err
	}

	if c.store == nil {
		c.local.Add(key, page)
		return &TierFallbackError{Reason: fallbackReasonUnconfigured}
	}

	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("error encoding cached page: %w", err)
	}

	_, err = c.breaker.Execute(
		func() (any, error) {
			rctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return nil, c.store.Upsert(rctx, key, string(data))
		},
	)
	if err == nil {
		return nil
	}

	c.local.Add(key, page)
	fallback := &TierFallbackError{Reason: fallbackReason(err), Err: err}
	c.logger.WarnContext(
		ctx,
		"page store write failed, stored locally",
		"key", key,
		"store", c.store.Name(),
		"reason", fallback.Reason,
		tint.Err(err),
	)
	return fallback
}

// Get returns the page stored under key. The durable tier is checked
// first, and the local tier is consulted on a miss or a failure.
func (c *PageCache) Get(ctx context.Context, key string) (CachedPage, bool) {
	if c.store != nil {
		page, found, err := c.getRemote(ctx, key)
		switch {
		case err != nil:
			c.logger.WarnContext(
				ctx,
				"page store read failed, checking local cache",
				"key", key,
				"store", c.store.Name(),
				"reason", fallbackReason(err),
				tint.Err(err),
			)
		case found:
			return page, true
		}
	}
	return c.local.Get(key)
}

func (c *PageCache) getRemote(ctx context.Context, key string) (CachedPage, bool, error) {
	rv, err := c.breaker.Execute(
		func() (any, error) {
			rctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			value, found, err := c.store.SelectByKey(rctx, key)
			if err != nil || !found {
				return nil, err
			}
			var page CachedPage
			if err = json.Unmarshal([]byte(value), &page); err != nil {
				return nil, fmt.Errorf("error decoding cached page: %w", err)
			}
			return &page, nil
		},
	)
	if err != nil {
		return CachedPage{}, false, err
	}
	page, ok := rv.(*CachedPage)
	if !ok || page == nil {
		return CachedPage{}, false, nil
	}
	return *page, true, nil
}

// Stats reports the configured backend, breaker state and local size
func (c *PageCache) Stats() CacheStats {
	stats := CacheStats{
		Backend:      cacheBackendNone,
		LocalEntries: c.local.Len(),
	}
	if c.store != nil {
		stats.Backend = c.store.Name()
		stats.BreakerState = c.breaker.State().String()
	}
	return stats
}

func fallbackReason(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fallbackReasonBreakerOpen
	}
	return fallbackReasonRemoteError
}

package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicaffil/platform/internal/shared/types"
)

// Cache is a read-through Redis cache in front of the aggregate queries.
// Aggregates are cached before suppression is applied, so a floor change
// takes effect immediately. Cache failures degrade to hitting the database;
// they are logged and never surfaced to the caller.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, log: log}
}

func sliceKey(tenantID types.ID, w Window) string {
	return fmt.Sprintf("report:slices:%s:%d:%d", tenantID, w.From.Unix(), w.To.Unix())
}

func summaryKey(tenantID types.ID, w Window) string {
	return fmt.Sprintf("report:summary:%s:%d:%d", tenantID, w.From.Unix(), w.To.Unix())
}

// Slices returns the cached aggregate for the window, filling from the
// loader on a miss. A nil receiver passes straight through.
func (c *Cache) Slices(ctx context.Context, tenantID types.ID, w Window, load func() ([]AffiliateSlice, error)) ([]AffiliateSlice, error) {
	if c == nil {
		return load()
	}

	key := sliceKey(tenantID, w)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var slices []AffiliateSlice
		if err := json.Unmarshal(raw, &slices); err == nil {
			return slices, nil
		}
		c.log.Warn().Str("key", key).Msg("discarding unreadable cached aggregate")
	} else if err != redis.Nil {
		c.log.Warn().Err(err).Str("key", key).Msg("report cache read failed")
	}

	slices, err := load()
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, slices)
	return slices, nil
}

// Summary is the read-through path for the tenant rollup.
func (c *Cache) Summary(ctx context.Context, tenantID types.ID, w Window, load func() (*TenantSummary, error)) (*TenantSummary, error) {
	if c == nil {
		return load()
	}

	key := summaryKey(tenantID, w)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var summary TenantSummary
		if err := json.Unmarshal(raw, &summary); err == nil {
			return &summary, nil
		}
		c.log.Warn().Str("key", key).Msg("discarding unreadable cached aggregate")
	} else if err != redis.Nil {
		c.log.Warn().Err(err).Str("key", key).Msg("report cache read failed")
	}

	summary, err := load()
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, summary)
	return summary, nil
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("report cache write failed")
	}
}

package client

import (
	"context"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// nameCache is a read-through cache from snowflake ID to display name.
// Entries live for the process lifetime; they are populated lazily on
// lookup and opportunistically from list responses. Concurrent lookups of
// the same ID collapse into a single platform call.
type nameCache struct {
	mu     sync.RWMutex
	names  map[snowflake.ID]string
	group  singleflight.Group
	fetch  func(ctx context.Context, id snowflake.ID) (string, error)
	logger *zap.Logger
}

func newNameCache(logger *zap.Logger, fetch func(ctx context.Context, id snowflake.ID) (string, error)) *nameCache {
	return &nameCache{
		names:  make(map[snowflake.ID]string),
		fetch:  fetch,
		logger: logger,
	}
}

// Lookup returns the cached name, fetching it on a miss. Lookup never
// fails; if the platform call errors, the raw ID is returned and the miss
// stays uncached so a later lookup can retry.
func (c *nameCache) Lookup(ctx context.Context, id snowflake.ID) string {
	c.mu.RLock()
	name, ok := c.names[id]
	c.mu.RUnlock()
	if ok {
		return name
	}

	result, err, _ := c.group.Do(id.String(), func() (any, error) {
		name, err := c.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		c.Prime(id, name)
		return name, nil
	})
	if err != nil {
		c.logger.Warn("Failed to look up name", zap.Uint64("id", uint64(id)), zap.Error(err))
		return id.String()
	}
	return result.(string)
}

// Prime stores a name observed in a list response without a dedicated fetch.
func (c *nameCache) Prime(id snowflake.ID, name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	c.names[id] = name
	c.mu.Unlock()
}

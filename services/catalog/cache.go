package catalogsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
)

const cacheKey = "karibu:catalog:modules"

type cachedCatalog struct {
	inner  progress.ModuleCatalog
	rdb    *redis.Client
	ttl    time.Duration
	logger core.Logger
}

var _ progress.ModuleCatalog = (*cachedCatalog)(nil)

// NewCachedCatalog decorates a catalog with a redis TTL cache. Cache failures
// degrade to the inner provider; they never make the catalog look unavailable.
func NewCachedCatalog(inner progress.ModuleCatalog, rdb *redis.Client, ttl time.Duration, logger core.Logger) *cachedCatalog {
	return &cachedCatalog{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func (cat *cachedCatalog) Modules(ctx context.Context) ([]progress.Module, error) {
	if data, err := cat.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
		var mods []progress.Module
		if err = json.Unmarshal(data, &mods); err == nil {
			return mods, nil
		}
		cat.logger.Warn(fmt.Sprintf("catalog: dropping corrupt cache entry: %v", err))
	} else if err != redis.Nil {
		cat.logger.Warn(fmt.Sprintf("catalog: cache read: %v", err))
	}

	mods, err := cat.inner.Modules(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(mods); err == nil {
		if err = cat.rdb.Set(ctx, cacheKey, data, cat.ttl).Err(); err != nil {
			cat.logger.Warn(fmt.Sprintf("catalog: cache write: %v", err))
		}
	}
	return mods, nil
}

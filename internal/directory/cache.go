package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crm-reminders/internal/common/logger"
	"crm-reminders/internal/common/metrics"
	"crm-reminders/internal/models"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const customerKeyPrefix = "reminders:customer:"

// CachedDirectory puts a process-local cache and a shared Redis cache in
// front of another Directory. Only found customers are cached, so a customer
// created in the CRM is visible on the next lookup.
type CachedDirectory struct {
	source   Directory
	redis    *redis.Client
	local    *gocache.Cache
	redisTTL time.Duration
	log      logger.Logger
}

// NewCachedDirectory wraps source. rdb may be nil to run with the local tier only.
func NewCachedDirectory(source Directory, rdb *redis.Client, redisTTL, localTTL time.Duration, log logger.Logger) *CachedDirectory {
	return &CachedDirectory{
		source:   source,
		redis:    rdb,
		local:    gocache.New(localTTL, 2*localTTL),
		redisTTL: redisTTL,
		log:      log.WithFields(map[string]interface{}{"component": "directory-cache"}),
	}
}

func customerKey(id string) string {
	return customerKeyPrefix + id
}

func (d *CachedDirectory) LookupCustomer(ctx context.Context, id string) (*models.Customer, error) {
	key := customerKey(id)

	if v, ok := d.local.Get(key); ok {
		metrics.DirectoryCacheLookups.WithLabelValues("local", "hit").Inc()
		c := v.(models.Customer)
		return &c, nil
	}
	metrics.DirectoryCacheLookups.WithLabelValues("local", "miss").Inc()

	if d.redis != nil {
		if c, ok := d.fromRedis(ctx, key); ok {
			d.local.SetDefault(key, *c)
			return c, nil
		}
	}

	c, err := d.source.LookupCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	d.store(ctx, key, c)
	return c, nil
}

func (d *CachedDirectory) TransactionExists(ctx context.Context, id string) (bool, error) {
	return d.source.TransactionExists(ctx, id)
}

// Invalidate drops a customer from both tiers.
func (d *CachedDirectory) Invalidate(ctx context.Context, id string) error {
	key := customerKey(id)
	d.local.Delete(key)
	if d.redis == nil {
		return nil
	}
	return d.redis.Del(ctx, key).Err()
}

func (d *CachedDirectory) fromRedis(ctx context.Context, key string) (*models.Customer, bool) {
	val, err := d.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		metrics.DirectoryCacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	if err != nil {
		metrics.DirectoryCacheLookups.WithLabelValues("redis", "error").Inc()
		d.log.Warn("redis cache read failed", map[string]interface{}{"key": key, "error": err})
		return nil, false
	}

	var c models.Customer
	if err := json.Unmarshal([]byte(val), &c); err != nil {
		d.log.Warn("discarding undecodable cache entry", map[string]interface{}{"key": key, "error": err})
		return nil, false
	}
	metrics.DirectoryCacheLookups.WithLabelValues("redis", "hit").Inc()
	return &c, true
}

func (d *CachedDirectory) store(ctx context.Context, key string, c *models.Customer) {
	d.local.SetDefault(key, *c)

	if d.redis == nil {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, key, data, d.redisTTL).Err(); err != nil {
		d.log.Warn("redis cache write failed", map[string]interface{}{"key": key, "error": err})
	}
}

package loyalty

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"github.com/sirupsen/logrus"
)

// IdentityCache is a read-through cache mapping external customer id to
// profile fields, backed by Redis. It exists to keep repeated identity
// lookups from burning platform rate limit.
type IdentityCache struct {
	api    possync.API
	logger *logrus.Logger
}

func NewIdentityCache(api possync.API, logger *logrus.Logger) *IdentityCache {
	return &IdentityCache{api: api, logger: logger}
}

func cacheKey(merchantId string, customerId string) string {
	return fmt.Sprintf("loyalty:customer:%s:%s", merchantId, customerId)
}

func cacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 24
	}
	return time.Duration(lifespan) * time.Hour
}

// GetProfile returns the cached profile, falling through to the platform on a
// miss. Cache failures degrade to direct lookups, never to errors.
func (c *IdentityCache) GetProfile(ctx context.Context, merchant *models.Merchant, customerId string) (*possync.Customer, error) {
	key := cacheKey(merchant.MerchantId, customerId)

	var cached possync.Customer
	found, err := config.GetRedisObject(key, &cached)
	if err != nil {
		config.LogError(c.logger, "loyalty", "IdentityCache.GetProfile", key, nil, err)
	}
	if found && cached.ID != "" {
		return &cached, nil
	}

	return c.Refresh(ctx, merchant, customerId)
}

// Refresh fetches the profile from the platform and rewrites the cache entry.
func (c *IdentityCache) Refresh(ctx context.Context, merchant *models.Merchant, customerId string) (*possync.Customer, error) {
	customer, err := c.api.GetCustomer(ctx, merchant, customerId)
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(cacheKey(merchant.MerchantId, customerId), customer, cacheLifespan()); err != nil {
		config.LogError(c.logger, "loyalty", "IdentityCache.Refresh", customerId, nil, err)
	}
	return customer, nil
}

// Invalidate drops one cached profile.
func (c *IdentityCache) Invalidate(merchantId string, customerId string) {
	_ = config.RemoveRedisKey(cacheKey(merchantId, customerId))
}

package loyalty

import (
	"context"
	"sync/atomic"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
)

// RefreshResult summarizes one customer-detail refresh pass.
type RefreshResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Customers int    `json:"customers"`
	Refreshed int    `json:"refreshed"`
	Failed    int    `json:"failed"`
}

// RefreshCustomerDetails re-pulls the platform profile of every customer the
// engine has seen and rewrites the cache. Lookups run on a bounded pool so a
// large customer base cannot stampede the platform API.
func (e *Engine) RefreshCustomerDetails(ctx context.Context, merchant *models.Merchant) RefreshResult {
	result := RefreshResult{}

	customerIds, err := e.store.KnownCustomerIds(ctx, merchant.MerchantId)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Customers = len(customerIds)

	if e.cache == nil {
		result.Success = true
		return result
	}

	var refreshed, failed int64
	pool := NewWorkerPool(e.cfg.RefreshWorkers)
	for _, customerId := range customerIds {
		customerId := customerId
		err := pool.Submit(ctx, func() {
			if _, err := e.cache.Refresh(ctx, merchant, customerId); err != nil {
				config.LogError(e.logger, "loyalty", "RefreshCustomerDetails", customerId, nil, err)
				atomic.AddInt64(&failed, 1)
				return
			}
			atomic.AddInt64(&refreshed, 1)
		})
		if err != nil {
			result.Error = err.Error()
			break
		}
	}
	pool.Wait()

	result.Refreshed = int(refreshed)
	result.Failed = int(failed)
	result.Success = result.Error == ""
	return result
}

package loyalty

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
)

// Prefetch is a bulk-loaded order-to-customer index built from one
// loyalty-event sweep over a time window. It turns the per-order loyalty
// lookup of the resolver into a map hit during backfills.
type Prefetch struct {
	eventsByOrder     map[string]possync.LoyaltyEvent
	customerByAccount map[string]string
}

// CustomerForOrder returns the customer behind orderId, when the window's
// loyalty events cover it.
func (p *Prefetch) CustomerForOrder(orderId string) (string, bool) {
	if p == nil {
		return "", false
	}
	event, ok := p.eventsByOrder[orderId]
	if !ok {
		return "", false
	}
	customerId, ok := p.customerByAccount[event.LoyaltyAccountId]
	if !ok || customerId == "" {
		return "", false
	}
	return customerId, true
}

// Orders reports how many distinct orders the index covers.
func (p *Prefetch) Orders() int {
	if p == nil {
		return 0
	}
	return len(p.eventsByOrder)
}

// BuildPrefetch sweeps the merchant's accumulate events for [start, end) and
// resolves each distinct loyalty account to its customer once.
func (e *Engine) BuildPrefetch(ctx context.Context, merchant *models.Merchant, start time.Time, end time.Time) (*Prefetch, error) {
	p := &Prefetch{
		eventsByOrder:     map[string]possync.LoyaltyEvent{},
		customerByAccount: map[string]string{},
	}

	cursor := ""
	for {
		events, next, err := e.api.SearchLoyaltyEvents(ctx, merchant, possync.LoyaltyEventQuery{
			Types:   []string{possync.LoyaltyEventTypeAccumulate},
			StartAt: start.UTC().Format(time.RFC3339),
			EndAt:   end.UTC().Format(time.RFC3339),
			Cursor:  cursor,
			Limit:   e.cfg.PageLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, event := range events {
			if event.OrderId == "" || event.LoyaltyAccountId == "" {
				continue
			}
			p.eventsByOrder[event.OrderId] = event
		}
		if next == "" {
			break
		}
		cursor = next
	}

	for accountId := range accountIds(p.eventsByOrder) {
		account, err := e.api.GetLoyaltyAccount(ctx, merchant, accountId)
		if err != nil {
			config.LogError(e.logger, "loyalty", "BuildPrefetch", accountId, nil, err)
			continue
		}
		p.customerByAccount[accountId] = account.CustomerId
	}

	e.logger.WithFields(map[string]interface{}{
		"merchant_id": merchant.MerchantId,
		"orders":      len(p.eventsByOrder),
		"accounts":    len(p.customerByAccount),
	}).Info("loyalty prefetch built")
	return p, nil
}

func accountIds(events map[string]possync.LoyaltyEvent) map[string]struct{} {
	ids := map[string]struct{}{}
	for _, event := range events {
		ids[event.LoyaltyAccountId] = struct{}{}
	}
	return ids
}

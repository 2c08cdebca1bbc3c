package loyalty

import (
	"context"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"bitbucket.org/mmdatafocus/loyalty_backend/utils"
)

// Identity is a resolved customer plus the resolver step that produced it.
type Identity struct {
	CustomerId string
	Method     models.IdentifiedBy
}

// ResolveCustomer derives a customer identity from an order. It tries each
// step in priority order and stops at the first hit; external-lookup steps
// go through the rate-limited gateway. A lookup failure is logged and falls
// through to the next step. Returns nil on exhaustion: "customer not found"
// is a valid terminal outcome, never patched with timestamp heuristics.
func (e *Engine) ResolveCustomer(ctx context.Context, merchant *models.Merchant, order *possync.Order, opts ProcessOptions) *Identity {
	// 1. Identifier embedded directly on the order.
	if order.CustomerId != "" {
		return &Identity{CustomerId: order.CustomerId, Method: models.IdentifiedByOrder}
	}

	// 2. Identifier on the order's payment tenders.
	for _, tender := range order.Tenders {
		if tender.CustomerId != "" {
			return &Identity{CustomerId: tender.CustomerId, Method: models.IdentifiedByTender}
		}
	}

	// 3. The platform's loyalty-event history. Batch contexts carry the whole
	// window's events as prefetched maps, which answer from memory; only a
	// single-order call pays for a per-order search.
	if opts.Prefetch != nil {
		if id, ok := opts.Prefetch.CustomerForOrder(order.ID); ok {
			return &Identity{CustomerId: id, Method: models.IdentifiedByPrefetch}
		}
	} else if id := e.resolveViaLoyaltyEvents(ctx, merchant, order.ID); id != "" {
		return &Identity{CustomerId: id, Method: models.IdentifiedByLoyalty}
	}

	// 4. A redemption already recorded against this order names the customer.
	if id := e.resolveViaRecordedRedemption(ctx, merchant, order.ID); id != "" {
		return &Identity{CustomerId: id, Method: models.IdentifiedByLoyalty}
	}

	// 5. Phone/email from fulfillment recipients, matched against the
	// platform's customer directory.
	if id := e.resolveViaFulfillments(ctx, merchant, order); id != nil {
		return id
	}

	return nil
}

func (e *Engine) resolveViaLoyaltyEvents(ctx context.Context, merchant *models.Merchant, orderId string) string {
	events, _, err := e.api.SearchLoyaltyEvents(ctx, merchant, possync.LoyaltyEventQuery{OrderId: orderId, Limit: e.cfg.PageLimit})
	if err != nil {
		config.LogError(e.logger, "loyalty", "resolveViaLoyaltyEvents", orderId, nil, err)
		return ""
	}
	for _, event := range events {
		if event.LoyaltyAccountId == "" {
			continue
		}
		account, err := e.api.GetLoyaltyAccount(ctx, merchant, event.LoyaltyAccountId)
		if err != nil {
			config.LogError(e.logger, "loyalty", "resolveViaLoyaltyEvents", event.LoyaltyAccountId, nil, err)
			continue
		}
		if account.CustomerId != "" {
			return account.CustomerId
		}
	}
	return ""
}

func (e *Engine) resolveViaRecordedRedemption(ctx context.Context, merchant *models.Merchant, orderId string) string {
	redemption, err := e.store.RedemptionByOrder(ctx, merchant.MerchantId, orderId)
	if err != nil {
		config.LogError(e.logger, "loyalty", "resolveViaRecordedRedemption", orderId, nil, err)
		return ""
	}
	if redemption != nil {
		return redemption.CustomerId
	}
	return ""
}

func (e *Engine) resolveViaFulfillments(ctx context.Context, merchant *models.Merchant, order *possync.Order) *Identity {
	for _, fulfillment := range order.Fulfillments {
		recipient := fulfillment.Recipient
		if recipient == nil {
			continue
		}
		if recipient.CustomerId != "" {
			return &Identity{CustomerId: recipient.CustomerId, Method: models.IdentifiedByFulfillment}
		}
		if phone := utils.NormalizePhone(recipient.PhoneNumber); phone != "" {
			if id := e.searchDirectory(ctx, merchant, possync.CustomerFilter{PhoneNumber: phone}); id != "" {
				return &Identity{CustomerId: id, Method: models.IdentifiedByFulfillment}
			}
		}
		if email := utils.NormalizeEmail(recipient.EmailAddress); email != "" {
			if id := e.searchDirectory(ctx, merchant, possync.CustomerFilter{EmailAddress: email}); id != "" {
				return &Identity{CustomerId: id, Method: models.IdentifiedByFulfillment}
			}
		}
	}
	return nil
}

// searchDirectory returns a customer id only on an unambiguous single match.
func (e *Engine) searchDirectory(ctx context.Context, merchant *models.Merchant, filter possync.CustomerFilter) string {
	customers, err := e.api.SearchCustomers(ctx, merchant, filter)
	if err != nil {
		config.LogError(e.logger, "loyalty", "searchDirectory", merchant.MerchantId, filter, err)
		return ""
	}
	if len(customers) == 1 {
		return customers[0].ID
	}
	return ""
}

package loyalty

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
)

// Audit entry kinds.
const (
	AuditKindQualifying     = "qualifying"
	AuditKindNonQualifying  = "non_qualifying"
	AuditKindRedeemedReward = "redeemed_reward"
)

// AuditEntry is one classified line item (or one synthesized redemption) in
// a customer's purchase history.
type AuditEntry struct {
	OrderId     string `json:"order_id"`
	ClosedAt    string `json:"closed_at,omitempty"`
	VariationId string `json:"variation_id,omitempty"`
	ItemName    string `json:"item_name,omitempty"`
	Quantity    int    `json:"quantity"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	OfferId     uint   `json:"offer_id,omitempty"`
}

// AuditResult is the full reconstructed history for one customer.
type AuditResult struct {
	Success    bool         `json:"success"`
	Error      string       `json:"error,omitempty"`
	CustomerId string       `json:"customer_id"`
	Orders     int          `json:"orders"`
	Entries    []AuditEntry `json:"entries"`
	Errors     []string     `json:"errors,omitempty"`
}

// AuditCustomer walks a customer's completed orders in one-month chunks and
// classifies every line item against the merchant's offers. Recorded
// redemptions are cross-referenced so a reward consumed on an order the
// platform reported without its free line still shows up.
func (e *Engine) AuditCustomer(ctx context.Context, merchant *models.Merchant, customerId string, start time.Time, end time.Time) AuditResult {
	result := AuditResult{CustomerId: customerId}

	offers, err := e.store.ActiveOffers(ctx, merchant.MerchantId)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	offerByVariation := map[string]*models.Offer{}
	for i := range offers {
		for _, variation := range offers[i].Variations {
			offerByVariation[variation.VariationId] = &offers[i]
		}
	}

	redemptions, err := e.store.RedemptionsByCustomer(ctx, merchant.MerchantId, customerId)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	redemptionByOrder := map[string]*models.Redemption{}
	for i := range redemptions {
		// Redemptions recorded without a consuming order cannot be matched to
		// any order in the history.
		if redemptions[i].OrderId != "" {
			redemptionByOrder[redemptions[i].OrderId] = &redemptions[i]
		}
	}

	seenOrders := map[string]bool{}
	for chunkStart := start; chunkStart.Before(end); chunkStart = chunkStart.AddDate(0, 1, 0) {
		chunkEnd := chunkStart.AddDate(0, 1, 0)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		if err := e.auditChunk(ctx, merchant, customerId, chunkStart, chunkEnd, offerByVariation, redemptionByOrder, seenOrders, &result); err != nil {
			config.LogError(e.logger, "loyalty", "AuditCustomer", customerId, nil, err)
			result.Errors = append(result.Errors, err.Error())
		}
	}

	// A matched redemption whose order had no free line item still consumed a
	// reward; synthesize the entry so the timeline accounts for it.
	for orderId, redemption := range redemptionByOrder {
		if !seenOrders[orderId] {
			continue
		}
		if hasEntry(result.Entries, orderId, AuditKindRedeemedReward) {
			continue
		}
		result.Entries = append(result.Entries, AuditEntry{
			OrderId:  orderId,
			Quantity: 1,
			Kind:     AuditKindRedeemedReward,
			Reason:   "redemption_on_file",
			OfferId:  redemption.OfferId,
		})
	}

	result.Success = true
	return result
}

func (e *Engine) auditChunk(ctx context.Context, merchant *models.Merchant, customerId string, start time.Time, end time.Time, offerByVariation map[string]*models.Offer, redemptionByOrder map[string]*models.Redemption, seenOrders map[string]bool, result *AuditResult) error {
	cursor := ""
	for {
		orders, next, err := e.api.SearchOrders(ctx, merchant, possync.OrderQuery{
			LocationIds: merchant.LocationIds(),
			CustomerIds: []string{customerId},
			States:      []string{"COMPLETED"},
			StartAt:     start.UTC().Format(time.RFC3339),
			EndAt:       end.UTC().Format(time.RFC3339),
			Cursor:      cursor,
			Limit:       e.cfg.PageLimit,
		})
		if err != nil {
			return err
		}

		for i := range orders {
			order := &orders[i]
			if seenOrders[order.ID] {
				continue
			}
			seenOrders[order.ID] = true
			result.Orders++
			e.auditOrder(order, offerByVariation, redemptionByOrder, result)
		}

		if next == "" {
			return nil
		}
		cursor = next
	}
}

func (e *Engine) auditOrder(order *possync.Order, offerByVariation map[string]*models.Offer, redemptionByOrder map[string]*models.Redemption, result *AuditResult) {
	redemption := redemptionByOrder[order.ID]

	for _, line := range order.LineItems {
		quantity := parseQuantity(line.Quantity.String())
		entry := AuditEntry{
			OrderId:     order.ID,
			ClosedAt:    order.ClosedAt,
			VariationId: line.CatalogObjectId,
			ItemName:    line.Name,
			Quantity:    quantity,
		}

		offer := offerByVariation[line.CatalogObjectId]
		free := line.GrossSalesMoney.Amount > 0 && line.TotalMoney.Amount == 0

		switch {
		case offer == nil:
			entry.Kind = AuditKindNonQualifying
			entry.Reason = ReasonNotEnrolled
		case free && redemption != nil:
			entry.Kind = AuditKindRedeemedReward
			entry.Reason = ReasonRewardDiscount
			entry.OfferId = offer.ID
		case free:
			entry.Kind = AuditKindNonQualifying
			entry.Reason = ReasonFreeItem
			entry.OfferId = offer.ID
		case quantity <= 0:
			entry.Kind = AuditKindNonQualifying
			entry.Reason = ReasonZeroQuantity
			entry.OfferId = offer.ID
		default:
			entry.Kind = AuditKindQualifying
			entry.Reason = ReasonEligible
			entry.OfferId = offer.ID
		}
		result.Entries = append(result.Entries, entry)
	}
}

func hasEntry(entries []AuditEntry, orderId string, kind string) bool {
	for _, entry := range entries {
		if entry.OrderId == orderId && entry.Kind == kind {
			return true
		}
	}
	return false
}

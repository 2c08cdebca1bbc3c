package loyalty

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

// ProcessOrder runs one order through the qualifying-purchase pipeline.
// Idempotent: an order already represented by a purchase event is a no-op.
// Never panics; per-line failures are isolated so one malformed item does not
// abort the rest of the order.
func (e *Engine) ProcessOrder(ctx context.Context, merchant *models.Merchant, order *possync.Order, opts ProcessOptions) ProcessResult {
	result := ProcessResult{OrderId: order.ID}

	if !merchant.IsLoyaltyEnabled() {
		result.Success = true
		result.Outcome = OutcomeDisabled
		return result
	}

	processed, err := e.store.OrderProcessed(ctx, merchant.MerchantId, order.ID)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if processed {
		// Order histories are append-only once completed: processed once
		// means never needs reprocessing.
		result.Success = true
		result.Outcome = OutcomeAlreadyProcessed
		return result
	}

	// Discounts on this order that belong to previously-issued rewards mark
	// their line items as redemptions, not fresh purchases.
	ownDiscountUIDs, matchedRewards := e.matchOwnDiscounts(ctx, merchant, order)
	for _, reward := range matchedRewards {
		redeemed := e.ConfirmRedemption(ctx, merchant, reward, order.ID)
		result.RedemptionDetected = result.RedemptionDetected || redeemed
	}

	offers, err := e.store.ActiveOffers(ctx, merchant.MerchantId)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	offerByVariation := indexOffersByVariation(offers)

	var identity *Identity
	if opts.Override != nil {
		identity = &Identity{CustomerId: opts.Override.CustomerId, Method: opts.Override.Method}
	} else {
		identity = e.ResolveCustomer(ctx, merchant, order, opts)
	}
	if identity == nil || identity.CustomerId == "" {
		result.Success = true
		result.Outcome = OutcomeNoCustomer
		return result
	}
	result.CustomerId = identity.CustomerId
	result.IdentifiedBy = identity.Method

	purchasedAt := orderTimestamp(order)
	paymentType := ""
	if len(order.Tenders) > 0 {
		paymentType = order.Tenders[0].Type
	}

	for _, line := range order.LineItems {
		outcome := e.processLineItem(ctx, merchant, order, line, identity, offerByVariation, ownDiscountUIDs, purchasedAt, paymentType, &result)
		result.Lines = append(result.Lines, outcome)
		if outcome.Eligible {
			result.EventsRecorded++
		}
	}

	result.Success = true
	if result.EventsRecorded > 0 {
		result.Outcome = OutcomeProcessed
	} else {
		result.Outcome = OutcomeNoQualifying
	}
	return result
}

// processLineItem classifies and, when eligible, persists one line item. The
// recover guard keeps an unexpected payload shape from taking the whole order
// down.
func (e *Engine) processLineItem(ctx context.Context, merchant *models.Merchant, order *possync.Order, line possync.OrderLineItem, identity *Identity, offerByVariation map[string]*offerMatch, ownDiscountUIDs map[string]bool, purchasedAt time.Time, paymentType string, result *ProcessResult) (outcome LineOutcome) {
	outcome = LineOutcome{VariationId: line.CatalogObjectId}

	defer func() {
		if r := recover(); r != nil {
			outcome.Eligible = false
			outcome.Reason = ReasonLineError
			config.LogError(e.logger, "loyalty", "processLineItem", order.ID, line, fmt.Errorf("panic: %v", r))
		}
	}()

	if line.CatalogObjectId == "" {
		outcome.Reason = ReasonNoVariation
		return outcome
	}

	quantity := parseQuantity(line.Quantity.String())
	outcome.Quantity = quantity
	if quantity <= 0 {
		outcome.Reason = ReasonZeroQuantity
		return outcome
	}

	// Free item: gross > 0 but net after discounts == 0, regardless of which
	// discount produced the zero.
	if line.GrossSalesMoney.Amount > 0 && line.TotalMoney.Amount == 0 {
		outcome.Reason = ReasonFreeItem
		return outcome
	}

	// An item carrying one of this program's own issued discounts is a
	// redemption being consumed, not a new qualifying purchase.
	for _, applied := range line.AppliedDiscounts {
		if ownDiscountUIDs[applied.DiscountUID] {
			outcome.Reason = ReasonRewardDiscount
			return outcome
		}
	}

	match := offerByVariation[line.CatalogObjectId]
	if match == nil {
		outcome.Reason = ReasonNotEnrolled
		return outcome
	}

	unitPrice := line.BasePriceMoney.Decimal()
	if unitPrice.IsZero() && quantity > 0 {
		unitPrice = line.GrossSalesMoney.Decimal().Div(decimal.NewFromInt(int64(quantity)))
	}

	event := &models.PurchaseEvent{
		MerchantId:   merchant.MerchantId,
		OrderId:      order.ID,
		VariationId:  line.CatalogObjectId,
		OfferId:      match.offer.ID,
		CustomerId:   identity.CustomerId,
		Quantity:     quantity,
		UnitPrice:    unitPrice,
		PurchasedAt:  purchasedAt,
		PaymentType:  paymentType,
		IdentifiedBy: identity.Method,
	}
	if err := e.store.CreatePurchaseEvent(ctx, event); err != nil {
		if err == ErrDuplicatePurchaseEvent {
			// Lost the race to a concurrent writer; the line is counted.
			outcome.Reason = ReasonDuplicate
			return outcome
		}
		outcome.Reason = ReasonLineError
		config.LogError(e.logger, "loyalty", "processLineItem", order.ID, line, err)
		return outcome
	}

	rewardId, err := e.advanceProgress(ctx, merchant, match.offer, identity.CustomerId, quantity, unitPrice, purchasedAt)
	if err != nil {
		// The purchase is recorded; the threshold stays crossed, so the next
		// qualifying purchase retries issuance.
		config.LogError(e.logger, "loyalty", "advanceProgress", order.ID, nil, err)
		result.Error = err.Error()
	}
	if rewardId != 0 {
		result.RewardIssuedId = rewardId
	}

	outcome.Eligible = true
	outcome.Reason = ReasonEligible
	return outcome
}

type offerMatch struct {
	offer *models.Offer
}

func indexOffersByVariation(offers []models.Offer) map[string]*offerMatch {
	index := make(map[string]*offerMatch)
	for i := range offers {
		offer := &offers[i]
		for _, variation := range offer.Variations {
			index[variation.VariationId] = &offerMatch{offer: offer}
		}
	}
	return index
}

// matchOwnDiscounts returns the applied-discount UIDs belonging to this
// program's issued rewards, plus the matched rewards themselves.
func (e *Engine) matchOwnDiscounts(ctx context.Context, merchant *models.Merchant, order *possync.Order) (map[string]bool, []*models.Reward) {
	uids := make(map[string]bool)
	var rewards []*models.Reward
	seen := make(map[uint]bool)
	for _, discount := range order.Discounts {
		objectId := discount.CatalogObjectId
		if objectId == "" {
			objectId = discount.PricingRuleId
		}
		reward, err := e.store.FindRewardByPOSObject(ctx, merchant.MerchantId, objectId)
		if err != nil {
			config.LogError(e.logger, "loyalty", "matchOwnDiscounts", order.ID, discount, err)
			continue
		}
		if reward == nil {
			continue
		}
		uids[discount.UID] = true
		if !seen[reward.ID] {
			seen[reward.ID] = true
			rewards = append(rewards, reward)
		}
	}
	return uids, rewards
}

// advanceProgress adds quantity into the customer's rolling window and issues
// a reward when the offer threshold is reached. Returns the issued reward id,
// or 0. Progress for one customer/offer is updated under a single writer.
func (e *Engine) advanceProgress(ctx context.Context, merchant *models.Merchant, offer *models.Offer, customerId string, quantity int, unitPrice decimal.Decimal, purchasedAt time.Time) (uint, error) {
	if e.cfg.Locker != nil {
		lockKey := fmt.Sprintf("loyalty:progress:%s:%d:%s", merchant.MerchantId, offer.ID, customerId)
		lock, err := e.cfg.Locker.Obtain(ctx, lockKey, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
		})
		if err != nil {
			return 0, err
		}
		defer lock.Release(ctx)
	}

	progress, err := e.store.GetProgress(ctx, merchant.MerchantId, offer.ID, customerId)
	if err != nil {
		return 0, err
	}
	if progress == nil {
		progress = &models.ProgressSummary{
			MerchantId: merchant.MerchantId,
			OfferId:    offer.ID,
			CustomerId: customerId,
		}
	}

	// Window boundaries roll forward, never backward.
	if progress.WindowStart == nil || (progress.WindowEnd != nil && purchasedAt.After(*progress.WindowEnd)) {
		start := purchasedAt
		end := monthsAfter(start, offer.WindowMonths)
		progress.WindowStart = &start
		progress.WindowEnd = &end
		progress.WindowQuantity = 0
	}

	progress.WindowQuantity += quantity
	progress.LifetimeQuantity += quantity
	progress.LifetimeAmount = progress.LifetimeAmount.Add(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))

	var issuedId uint
	alreadyEarned := progress.RewardEarned != nil && *progress.RewardEarned
	if !alreadyEarned && progress.WindowQuantity >= offer.RequiredQuantity {
		reward, issueErr := e.IssueReward(ctx, merchant, offer, customerId)
		if issueErr != nil {
			// Count the purchase regardless; the threshold stays crossed and
			// issuance is retried later.
			if saveErr := e.store.SaveProgress(ctx, progress); saveErr != nil {
				return 0, saveErr
			}
			return 0, issueErr
		}
		issuedId = reward.ID
		progress.WindowQuantity -= offer.RequiredQuantity
		earned := true
		progress.RewardEarned = &earned
		progress.CurrentRewardId = &reward.ID
		start := purchasedAt
		end := monthsAfter(start, offer.WindowMonths)
		progress.WindowStart = &start
		progress.WindowEnd = &end
	}

	if err := e.store.SaveProgress(ctx, progress); err != nil {
		return issuedId, err
	}
	return issuedId, nil
}

// ProcessRefund mirrors ProcessOrder for refund orders: purchase events
// matching returned items are reversed and progress decremented. Refunds of
// items that were already free were never counted, so they need no
// adjustment.
func (e *Engine) ProcessRefund(ctx context.Context, merchant *models.Merchant, order *possync.Order) ProcessResult {
	result := ProcessResult{OrderId: order.ID}

	if !merchant.IsLoyaltyEnabled() {
		result.Success = true
		result.Outcome = OutcomeDisabled
		return result
	}

	for _, ret := range order.Returns {
		sourceOrderId := ret.SourceOrderId
		if sourceOrderId == "" {
			sourceOrderId = order.ID
		}
		events, err := e.store.PurchaseEventsByOrder(ctx, merchant.MerchantId, sourceOrderId)
		if err != nil {
			result.Error = err.Error()
			return result
		}

		for _, line := range ret.ReturnLineItems {
			if line.GrossSalesMoney.Amount > 0 && line.TotalMoney.Amount == 0 {
				// The returned item was free; it was never counted.
				result.Lines = append(result.Lines, LineOutcome{VariationId: line.CatalogObjectId, Reason: ReasonFreeItem})
				continue
			}
			quantity := parseQuantity(line.Quantity.String())
			for i := range events {
				ev := &events[i]
				if ev.VariationId != line.CatalogObjectId {
					continue
				}
				if ev.ReversedQuantity >= ev.Quantity || (ev.Reversed != nil && *ev.Reversed) {
					continue
				}
				if err := e.reversePurchase(ctx, merchant, ev, quantity); err != nil {
					config.LogError(e.logger, "loyalty", "ProcessRefund", order.ID, ev, err)
					result.Error = err.Error()
					continue
				}
				result.EventsRecorded++
				break
			}
		}
	}

	result.Success = true
	result.Outcome = OutcomeProcessed
	return result
}

// reversePurchase backs the returned quantity out of the event and the
// customer's progress. A partial return leaves the event live with the
// remainder still counted; Reversed flips once the full quantity is back.
func (e *Engine) reversePurchase(ctx context.Context, merchant *models.Merchant, ev *models.PurchaseEvent, quantity int) error {
	remaining := ev.Quantity - ev.ReversedQuantity
	if remaining <= 0 {
		return nil
	}
	if quantity <= 0 || quantity > remaining {
		quantity = remaining
	}
	ev.ReversedQuantity += quantity
	if ev.ReversedQuantity >= ev.Quantity {
		reversed := true
		ev.Reversed = &reversed
	}
	if err := e.store.SavePurchaseEvent(ctx, ev); err != nil {
		return err
	}

	progress, err := e.store.GetProgress(ctx, merchant.MerchantId, ev.OfferId, ev.CustomerId)
	if err != nil || progress == nil {
		return err
	}
	progress.WindowQuantity -= quantity
	if progress.WindowQuantity < 0 {
		progress.WindowQuantity = 0
	}
	progress.LifetimeQuantity -= quantity
	if progress.LifetimeQuantity < 0 {
		progress.LifetimeQuantity = 0
	}
	progress.LifetimeAmount = progress.LifetimeAmount.Sub(ev.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))))
	return e.store.SaveProgress(ctx, progress)
}

func parseQuantity(raw string) int {
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int(f)
	}
	return 0
}

func orderTimestamp(order *possync.Order) time.Time {
	for _, raw := range []string{order.ClosedAt, order.CreatedAt} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Now()
}

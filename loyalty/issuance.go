package loyalty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IssueReward provisions the POS-side discount objects for an earned reward
// as a 4-step saga:
//
//  1. create a customer group scoped to the reward
//  2. add the customer to it
//  3. compute the safety-cap amount (fail-closed without price data)
//  4. create the 100%-off discount + one-item product set + pricing rule
//
// Any failed step tears down everything created so far and leaves the reward
// row without POS identifiers, safe to retry. On success all four identifiers
// and the cap are persisted together.
func (e *Engine) IssueReward(ctx context.Context, merchant *models.Merchant, offer *models.Offer, customerId string) (*models.Reward, error) {
	reward, err := e.store.FindEarnedReward(ctx, merchant.MerchantId, offer.ID, customerId)
	if err != nil {
		return nil, err
	}
	if reward != nil && reward.Issued() {
		return reward, nil
	}
	if reward == nil {
		reward = &models.Reward{
			MerchantId: merchant.MerchantId,
			OfferId:    offer.ID,
			CustomerId: customerId,
			Status:     models.RewardStatusEarned,
			EarnedAt:   time.Now(),
		}
		if err := e.store.CreateReward(ctx, reward); err != nil {
			return nil, err
		}
	}

	// Step 1: customer group. The idempotency key is derived from the reward
	// id so a retried saga reuses the same platform-side group.
	groupName := fmt.Sprintf("loyalty-reward-%d", reward.ID)
	groupId, err := e.api.CreateCustomerGroup(ctx, merchant, groupName, sagaKey(reward.ID, "group"))
	if err != nil {
		return nil, fmt.Errorf("issue reward %d step 1 (group): %w", reward.ID, err)
	}

	// Step 2: membership.
	if err := e.api.AddGroupMember(ctx, merchant, groupId, customerId); err != nil {
		e.rollbackIssuance(ctx, merchant, groupId, "")
		return nil, fmt.Errorf("issue reward %d step 2 (member): %w", reward.ID, err)
	}

	// Step 3: safety cap. Never create an unbounded discount.
	cap, err := e.computeCap(ctx, merchant, offer, customerId)
	if err != nil {
		e.rollbackIssuance(ctx, merchant, groupId, customerId)
		return nil, fmt.Errorf("issue reward %d step 3 (cap): %w", reward.ID, err)
	}

	// Step 4: discount, product set and pricing rule in one atomic batch.
	ids, err := e.upsertDiscountObjects(ctx, merchant, offer, reward, groupId, cap)
	if err != nil {
		e.rollbackIssuance(ctx, merchant, groupId, customerId)
		return nil, fmt.Errorf("issue reward %d step 4 (catalog): %w", reward.ID, err)
	}

	reward.GroupId = groupId
	reward.DiscountId = ids["#discount"]
	reward.ProductSetId = ids["#product_set"]
	reward.PricingRuleId = ids["#pricing_rule"]
	reward.CapAmount = cap
	if err := e.store.SaveReward(ctx, reward); err != nil {
		return nil, err
	}

	e.appendNoteTag(ctx, merchant, customerId, offer.TagLine())
	models.AppendAuditLog(ctx, merchant.MerchantId, "reward_issued", reward)
	return reward, nil
}

func sagaKey(rewardId uint, step string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("loyalty-reward-%d-%s", rewardId, step))).String()
}

func (e *Engine) rollbackIssuance(ctx context.Context, merchant *models.Merchant, groupId string, customerId string) {
	if customerId != "" {
		if err := e.api.RemoveGroupMember(ctx, merchant, groupId, customerId); err != nil && !possync.IsNotFound(err) {
			config.LogError(e.logger, "loyalty", "rollbackIssuance", groupId, nil, err)
		}
	}
	if err := e.api.DeleteCustomerGroup(ctx, merchant, groupId); err != nil && !possync.IsNotFound(err) {
		config.LogError(e.logger, "loyalty", "rollbackIssuance", groupId, nil, err)
	}
}

// computeCap returns max(highest unit price in this customer's purchase
// history for the offer, highest current catalog price among qualifying
// variations). Errors out when no price data exists at all.
func (e *Engine) computeCap(ctx context.Context, merchant *models.Merchant, offer *models.Offer, customerId string) (decimal.Decimal, error) {
	historyMax, err := e.store.MaxUnitPrice(ctx, merchant.MerchantId, offer.ID, customerId)
	if err != nil {
		return decimal.Zero, err
	}

	catalogMax := decimal.Zero
	for _, variation := range offer.Variations {
		if variation.Price.GreaterThan(catalogMax) {
			catalogMax = variation.Price
		}
	}

	cap := historyMax
	if catalogMax.GreaterThan(cap) {
		cap = catalogMax
	}
	if cap.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrNoPriceData
	}
	return cap, nil
}

func (e *Engine) upsertDiscountObjects(ctx context.Context, merchant *models.Merchant, offer *models.Offer, reward *models.Reward, groupId string, cap decimal.Decimal) (map[string]string, error) {
	variationIds := make([]string, 0, len(offer.Variations))
	for _, variation := range offer.Variations {
		variationIds = append(variationIds, variation.VariationId)
	}
	capMoney := possync.MoneyFromDecimal(cap, "USD")

	objects := []possync.CatalogObject{
		{
			Type: possync.CatalogTypeDiscount,
			ID:   "#discount",
			DiscountData: &possync.CatalogDiscount{
				Name:          fmt.Sprintf("loyalty-reward-%d-discount", reward.ID),
				DiscountType:  "FIXED_PERCENTAGE",
				Percentage:    "100",
				MaximumAmount: &capMoney,
			},
		},
		{
			Type: possync.CatalogTypeProductSet,
			ID:   "#product_set",
			ProductSet: &possync.CatalogProductSet{
				Name:          fmt.Sprintf("loyalty-reward-%d-products", reward.ID),
				ProductIds:    variationIds,
				QuantityExact: 1,
			},
		},
		{
			Type: possync.CatalogTypePricingRule,
			ID:   "#pricing_rule",
			PricingRule: &possync.CatalogPricingRule{
				Name:             fmt.Sprintf("loyalty-reward-%d-rule", reward.ID),
				DiscountId:       "#discount",
				MatchProductsId:  "#product_set",
				CustomerGroupIds: []string{groupId},
			},
		},
	}

	ids, err := e.api.BatchUpsertCatalog(ctx, merchant, objects, sagaKey(reward.ID, "catalog"))
	if err != nil {
		return nil, err
	}
	for _, tempId := range []string{"#discount", "#product_set", "#pricing_rule"} {
		if ids[tempId] == "" {
			return nil, fmt.Errorf("catalog upsert returned no id for %s", tempId)
		}
	}
	return ids, nil
}

// appendNoteTag adds the offer's tag line to the customer's POS-visible note,
// once. Failures are logged, never fatal: the note is a human courtesy, not
// lifecycle state.
func (e *Engine) appendNoteTag(ctx context.Context, merchant *models.Merchant, customerId string, tag string) {
	customer, err := e.api.GetCustomer(ctx, merchant, customerId)
	if err != nil {
		config.LogError(e.logger, "loyalty", "appendNoteTag", customerId, nil, err)
		return
	}
	if noteHasLine(customer.Note, tag) {
		return
	}
	note := customer.Note
	if note != "" {
		note += "\n"
	}
	note += tag
	if err := e.api.UpdateCustomerNote(ctx, merchant, customerId, note, customer.Version); err != nil {
		config.LogError(e.logger, "loyalty", "appendNoteTag", customerId, nil, err)
	}
	if e.cache != nil {
		e.cache.Invalidate(merchant.MerchantId, customerId)
	}
}

func noteHasLine(note string, line string) bool {
	for _, existing := range strings.Split(note, "\n") {
		if strings.TrimSpace(existing) == line {
			return true
		}
	}
	return false
}

func stripNoteLine(note string, line string) string {
	var kept []string
	for _, existing := range strings.Split(note, "\n") {
		if strings.TrimSpace(existing) == line {
			continue
		}
		kept = append(kept, existing)
	}
	return strings.Join(kept, "\n")
}

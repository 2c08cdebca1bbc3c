package loyalty

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"github.com/shopspring/decimal"
)

// MaintenanceResult summarizes one cap-maintenance pass.
type MaintenanceResult struct {
	Success        bool     `json:"success"`
	Error          string   `json:"error,omitempty"`
	RewardsChecked int      `json:"rewards_checked"`
	CapsRaised     int      `json:"caps_raised"`
	Errors         []string `json:"errors,omitempty"`
}

// RaiseRewardCaps recomputes the safety cap for every earned, unredeemed
// reward and raises the platform-side discount ceiling when the current
// catalog price now exceeds the stored cap. Caps are only ever raised;
// lowering is a manual operation.
func (e *Engine) RaiseRewardCaps(ctx context.Context) MaintenanceResult {
	result := MaintenanceResult{}

	rewards, err := e.store.EarnedUnredeemedRewards(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	for i := range rewards {
		reward := &rewards[i]
		result.RewardsChecked++
		raised, err := e.raiseCap(ctx, reward)
		if err != nil {
			config.LogError(e.logger, "loyalty", "RaiseRewardCaps", fmt.Sprint(reward.ID), nil, err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if raised {
			result.CapsRaised++
		}
	}

	result.Success = true
	return result
}

func (e *Engine) raiseCap(ctx context.Context, reward *models.Reward) (bool, error) {
	merchant, err := e.store.GetMerchant(ctx, reward.MerchantId)
	if err != nil || merchant == nil {
		return false, err
	}
	offer, err := e.store.GetOffer(ctx, reward.MerchantId, reward.OfferId)
	if err != nil || offer == nil {
		return false, err
	}

	newCap := reward.CapAmount
	for _, variation := range offer.Variations {
		if variation.Price.GreaterThan(newCap) {
			newCap = variation.Price
		}
	}
	if historyMax, err := e.store.MaxUnitPrice(ctx, reward.MerchantId, reward.OfferId, reward.CustomerId); err == nil && historyMax.GreaterThan(newCap) {
		newCap = historyMax
	}
	if !newCap.GreaterThan(reward.CapAmount) {
		return false, nil
	}

	if err := e.raiseDiscountCeiling(ctx, merchant, reward, newCap); err != nil {
		return false, err
	}

	reward.CapAmount = newCap
	if err := e.store.SaveReward(ctx, reward); err != nil {
		return false, err
	}
	models.AppendAuditLog(ctx, reward.MerchantId, "reward_cap_raised", reward)
	return true, nil
}

func (e *Engine) raiseDiscountCeiling(ctx context.Context, merchant *models.Merchant, reward *models.Reward, cap decimal.Decimal) error {
	discount, err := e.api.GetCatalogObject(ctx, merchant, reward.DiscountId)
	if err != nil {
		return err
	}
	if discount.DiscountData == nil {
		discount.DiscountData = &possync.CatalogDiscount{DiscountType: "FIXED_PERCENTAGE", Percentage: "100"}
	}
	capMoney := possync.MoneyFromDecimal(cap, "USD")
	discount.DiscountData.MaximumAmount = &capMoney

	_, err = e.api.BatchUpsertCatalog(ctx, merchant, []possync.CatalogObject{*discount}, sagaKey(reward.ID, "cap-raise"))
	return err
}

package loyalty

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
)

// ConfirmRedemption tears down the POS-side objects of a consumed reward and
// records the redemption. orderId may be "" when the consuming order is
// unknown. Already-deleted platform objects are the desired end state, so a
// 404 on any teardown call counts as success. Returns true when the reward
// transitioned to redeemed.
func (e *Engine) ConfirmRedemption(ctx context.Context, merchant *models.Merchant, reward *models.Reward, orderId string) bool {
	if reward.Status == models.RewardStatusRedeemed {
		return false
	}

	if reward.GroupId != "" {
		if err := e.api.RemoveGroupMember(ctx, merchant, reward.GroupId, reward.CustomerId); err != nil && !possync.IsNotFound(err) {
			config.LogError(e.logger, "loyalty", "ConfirmRedemption", reward.GroupId, nil, err)
			return false
		}
		if err := e.api.DeleteCustomerGroup(ctx, merchant, reward.GroupId); err != nil && !possync.IsNotFound(err) {
			config.LogError(e.logger, "loyalty", "ConfirmRedemption", reward.GroupId, nil, err)
			return false
		}
	}

	objectIds := make([]string, 0, 3)
	for _, id := range []string{reward.PricingRuleId, reward.ProductSetId, reward.DiscountId} {
		if id != "" {
			objectIds = append(objectIds, id)
		}
	}
	if len(objectIds) > 0 {
		if err := e.api.BatchDeleteCatalog(ctx, merchant, objectIds); err != nil && !possync.IsNotFound(err) {
			config.LogError(e.logger, "loyalty", "ConfirmRedemption", fmt.Sprint(reward.ID), objectIds, err)
			return false
		}
	}

	redemption := &models.Redemption{
		MerchantId: merchant.MerchantId,
		RewardId:   reward.ID,
		OfferId:    reward.OfferId,
		CustomerId: reward.CustomerId,
		OrderId:    orderId,
		RedeemedAt: time.Now(),
	}
	if err := e.store.CreateRedemption(ctx, redemption); err != nil {
		config.LogError(e.logger, "loyalty", "ConfirmRedemption", fmt.Sprint(reward.ID), nil, err)
		return false
	}

	now := time.Now()
	reward.GroupId = ""
	reward.DiscountId = ""
	reward.ProductSetId = ""
	reward.PricingRuleId = ""
	reward.Status = models.RewardStatusRedeemed
	reward.RedeemedAt = &now
	if err := e.store.SaveReward(ctx, reward); err != nil {
		config.LogError(e.logger, "loyalty", "ConfirmRedemption", fmt.Sprint(reward.ID), nil, err)
		return false
	}

	if progress, err := e.store.GetProgress(ctx, merchant.MerchantId, reward.OfferId, reward.CustomerId); err == nil && progress != nil {
		earned := false
		progress.RewardEarned = &earned
		progress.CurrentRewardId = nil
		if err := e.store.SaveProgress(ctx, progress); err != nil {
			config.LogError(e.logger, "loyalty", "ConfirmRedemption", fmt.Sprint(reward.ID), nil, err)
		}
	}

	e.stripNoteTag(ctx, merchant, reward)
	models.AppendAuditLog(ctx, merchant.MerchantId, "reward_redeemed", redemption)
	return true
}

func (e *Engine) stripNoteTag(ctx context.Context, merchant *models.Merchant, reward *models.Reward) {
	offer, err := e.store.GetOffer(ctx, merchant.MerchantId, reward.OfferId)
	if err != nil || offer == nil {
		return
	}
	customer, err := e.api.GetCustomer(ctx, merchant, reward.CustomerId)
	if err != nil {
		config.LogError(e.logger, "loyalty", "stripNoteTag", reward.CustomerId, nil, err)
		return
	}
	tag := offer.TagLine()
	if !noteHasLine(customer.Note, tag) {
		return
	}
	if err := e.api.UpdateCustomerNote(ctx, merchant, reward.CustomerId, stripNoteLine(customer.Note, tag), customer.Version); err != nil {
		config.LogError(e.logger, "loyalty", "stripNoteTag", reward.CustomerId, nil, err)
	}
	if e.cache != nil {
		e.cache.Invalidate(merchant.MerchantId, reward.CustomerId)
	}
}

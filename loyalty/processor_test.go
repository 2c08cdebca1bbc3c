package loyalty

import (
	"context"
	"encoding/json"
	"testing"

	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
)

func line(variationId string, quantity string, grossCents int64, totalCents int64) possync.OrderLineItem {
	unit := int64(0)
	if q := parseQuantity(quantity); q > 0 {
		unit = grossCents / int64(q)
	}
	return possync.OrderLineItem{
		UID:             "uid-" + variationId,
		CatalogObjectId: variationId,
		Quantity:        json.Number(quantity),
		BasePriceMoney:  possync.Money{Amount: unit, Currency: "USD"},
		GrossSalesMoney: possync.Money{Amount: grossCents, Currency: "USD"},
		TotalMoney:      possync.Money{Amount: totalCents, Currency: "USD"},
	}
}

func completedOrder(id string, customerId string, lines ...possync.OrderLineItem) *possync.Order {
	return &possync.Order{
		ID:         id,
		State:      "COMPLETED",
		CustomerId: customerId,
		ClosedAt:   "2026-03-10T12:00:00Z",
		LineItems:  lines,
	}
}

func TestProcessOrderRecordsQualifyingPurchase(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())

	result := engine.ProcessOrder(context.Background(), merchant, completedOrder("ORD1", "CUST1", line("VAR1", "2", 900, 900)), ProcessOptions{})

	if !result.Success || result.Outcome != OutcomeProcessed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.EventsRecorded != 1 {
		t.Fatalf("expected 1 event recorded, got %d", result.EventsRecorded)
	}
	if len(store.purchaseEvents) != 1 {
		t.Fatalf("expected 1 purchase event, got %d", len(store.purchaseEvents))
	}
	ev := store.purchaseEvents[0]
	if ev.Quantity != 2 || ev.CustomerId != "CUST1" || ev.OfferId != 7 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	progress := store.progress[progressKey("M1", 7, "CUST1")]
	if progress == nil || progress.WindowQuantity != 2 || progress.LifetimeQuantity != 2 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
}

func TestProcessOrderIdempotent(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())
	order := completedOrder("ORD1", "CUST1", line("VAR1", "2", 900, 900))

	first := engine.ProcessOrder(context.Background(), merchant, order, ProcessOptions{})
	second := engine.ProcessOrder(context.Background(), merchant, order, ProcessOptions{})

	if first.Outcome != OutcomeProcessed {
		t.Fatalf("first pass: %+v", first)
	}
	if !second.Success || second.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("second pass: %+v", second)
	}
	if len(store.purchaseEvents) != 1 {
		t.Fatalf("expected 1 purchase event after reprocess, got %d", len(store.purchaseEvents))
	}
	progress := store.progress[progressKey("M1", 7, "CUST1")]
	if progress.WindowQuantity != 2 {
		t.Fatalf("reprocessing changed progress: %+v", progress)
	}
}

func TestProcessOrderStoreFailureHasNoOutcome(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	store.failProcessedScan = map[string]error{"ORD1": context.DeadlineExceeded}
	engine := newTestEngine(store, newFakeAPI())

	result := engine.ProcessOrder(context.Background(), merchant, completedOrder("ORD1", "CUST1", line("VAR1", "1", 450, 450)), ProcessOptions{})

	if result.Success || result.Error == "" {
		t.Fatalf("store failure must fail the result: %+v", result)
	}
	if result.Outcome != "" {
		t.Fatalf("a failed result must not carry a disposition: %+v", result)
	}
}

func TestProcessOrderExcludesFreeItems(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())

	// Comped item: positive gross, zero net.
	result := engine.ProcessOrder(context.Background(), merchant, completedOrder("ORD1", "CUST1", line("VAR1", "1", 450, 0)), ProcessOptions{})

	if !result.Success || result.Outcome != OutcomeNoQualifying {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Lines) != 1 || result.Lines[0].Reason != ReasonFreeItem {
		t.Fatalf("unexpected lines: %+v", result.Lines)
	}
	if len(store.purchaseEvents) != 0 {
		t.Fatalf("free item must not be recorded")
	}
}

func TestProcessOrderCountsGenuinelyZeroPricedItem(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())

	// Zero gross and zero net is a zero-priced catalog item, not a comp.
	result := engine.ProcessOrder(context.Background(), merchant, completedOrder("ORD1", "CUST1", line("VAR1", "1", 0, 0)), ProcessOptions{})

	if result.EventsRecorded != 1 {
		t.Fatalf("zero-priced item should count: %+v", result)
	}
}

func TestProcessOrderNoCustomerIsTerminal(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())

	result := engine.ProcessOrder(context.Background(), merchant, completedOrder("ORD1", "", line("VAR1", "1", 450, 450)), ProcessOptions{})

	if !result.Success || result.Outcome != OutcomeNoCustomer {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(store.purchaseEvents) != 0 {
		t.Fatalf("unidentified order must not be recorded")
	}
}

func TestProcessOrderDisabledMerchant(t *testing.T) {
	merchant := testMerchant()
	disabled := false
	merchant.LoyaltyEnabled = &disabled
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())

	result := engine.ProcessOrder(context.Background(), merchant, completedOrder("ORD1", "CUST1", line("VAR1", "1", 450, 450)), ProcessOptions{})

	if !result.Success || result.Outcome != OutcomeDisabled {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestThresholdCrossingIssuesExactlyOneReward(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	api := newFakeAPI()
	engine := newTestEngine(store, api)
	ctx := context.Background()

	first := engine.ProcessOrder(ctx, merchant, completedOrder("ORD1", "CUST1", line("VAR1", "9", 4050, 4050)), ProcessOptions{})
	if first.RewardIssuedId != 0 {
		t.Fatalf("reward issued below threshold: %+v", first)
	}

	second := engine.ProcessOrder(ctx, merchant, completedOrder("ORD2", "CUST1", line("VAR2", "3", 1575, 1575)), ProcessOptions{})
	if second.RewardIssuedId == 0 {
		t.Fatalf("expected reward at threshold: %+v", second)
	}

	if len(store.rewards) != 1 {
		t.Fatalf("expected exactly 1 reward, got %d", len(store.rewards))
	}
	reward := store.rewards[0]
	if !reward.Issued() {
		t.Fatalf("reward missing platform ids: %+v", reward)
	}
	if !reward.CapAmount.Equal(testOffer(12).Variations[1].Price) {
		t.Fatalf("unexpected cap: %s", reward.CapAmount)
	}

	progress := store.progress[progressKey("M1", 7, "CUST1")]
	if progress.WindowQuantity != 0 {
		t.Fatalf("quantity not consumed by issuance: %+v", progress)
	}
	if progress.RewardEarned == nil || !*progress.RewardEarned {
		t.Fatalf("earned flag not set: %+v", progress)
	}

	// Replay must not mint a second reward.
	replay := engine.ProcessOrder(ctx, merchant, completedOrder("ORD2", "CUST1", line("VAR2", "3", 1575, 1575)), ProcessOptions{})
	if replay.Outcome != OutcomeAlreadyProcessed || len(store.rewards) != 1 {
		t.Fatalf("replay minted reward: %+v", replay)
	}
}

func TestNoSecondRewardWhileOneOutstanding(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(3))
	engine := newTestEngine(store, newFakeAPI())
	ctx := context.Background()

	engine.ProcessOrder(ctx, merchant, completedOrder("ORD1", "CUST1", line("VAR1", "3", 1350, 1350)), ProcessOptions{})
	engine.ProcessOrder(ctx, merchant, completedOrder("ORD2", "CUST1", line("VAR1", "3", 1350, 1350)), ProcessOptions{})

	if len(store.rewards) != 1 {
		t.Fatalf("expected 1 outstanding reward, got %d", len(store.rewards))
	}
	progress := store.progress[progressKey("M1", 7, "CUST1")]
	if progress.WindowQuantity != 3 {
		t.Fatalf("second threshold crossing should bank quantity: %+v", progress)
	}
}

func TestOwnDiscountMarksRedemption(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(3))
	api := newFakeAPI()
	engine := newTestEngine(store, api)
	ctx := context.Background()

	engine.ProcessOrder(ctx, merchant, completedOrder("ORD1", "CUST1", line("VAR1", "3", 1350, 1350)), ProcessOptions{})
	if len(store.rewards) != 1 {
		t.Fatalf("setup: expected issued reward")
	}
	reward := store.rewards[0]

	redeemOrder := completedOrder("ORD2", "CUST1", line("VAR1", "1", 450, 0))
	redeemOrder.LineItems[0].AppliedDiscounts = []possync.AppliedDiscount{{DiscountUID: "d1"}}
	redeemOrder.Discounts = []possync.OrderDiscount{{UID: "d1", CatalogObjectId: reward.PricingRuleId}}

	result := engine.ProcessOrder(ctx, merchant, redeemOrder, ProcessOptions{})

	if !result.RedemptionDetected {
		t.Fatalf("redemption not detected: %+v", result)
	}
	if reward.Status != "redeemed" || reward.Issued() {
		t.Fatalf("reward not cleaned up: %+v", reward)
	}
	if len(store.redemptions) != 1 || store.redemptions[0].OrderId != "ORD2" {
		t.Fatalf("unexpected redemptions: %+v", store.redemptions)
	}
	if len(store.purchaseEvents) != 1 {
		t.Fatalf("redeemed free line must not count as purchase")
	}
	progress := store.progress[progressKey("M1", 7, "CUST1")]
	if progress.RewardEarned != nil && *progress.RewardEarned {
		t.Fatalf("earned flag not reset: %+v", progress)
	}
}

func TestProcessRefundReversesPurchase(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())
	ctx := context.Background()

	engine.ProcessOrder(ctx, merchant, completedOrder("ORD1", "CUST1", line("VAR1", "2", 900, 900)), ProcessOptions{})

	refund := &possync.Order{
		ID:       "REF1",
		State:    "COMPLETED",
		ClosedAt: "2026-03-11T12:00:00Z",
		Returns: []possync.OrderReturn{
			{
				SourceOrderId: "ORD1",
				ReturnLineItems: []possync.OrderReturnLineItem{
					{CatalogObjectId: "VAR1", Quantity: "2", GrossSalesMoney: possync.Money{Amount: 900}, TotalMoney: possync.Money{Amount: 900}},
				},
			},
		},
	}
	result := engine.ProcessRefund(ctx, merchant, refund)

	if !result.Success || result.EventsRecorded != 1 {
		t.Fatalf("unexpected refund result: %+v", result)
	}
	ev := store.purchaseEvents[0]
	if ev.Reversed == nil || !*ev.Reversed {
		t.Fatalf("purchase not marked reversed: %+v", ev)
	}
	progress := store.progress[progressKey("M1", 7, "CUST1")]
	if progress.WindowQuantity != 0 || progress.LifetimeQuantity != 0 {
		t.Fatalf("progress not decremented: %+v", progress)
	}
}

func TestProcessRefundPartialReturn(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())
	ctx := context.Background()

	engine.ProcessOrder(ctx, merchant, completedOrder("ORD1", "CUST1", line("VAR1", "3", 1350, 1350)), ProcessOptions{})

	partial := &possync.Order{
		ID: "REF1",
		Returns: []possync.OrderReturn{
			{
				SourceOrderId: "ORD1",
				ReturnLineItems: []possync.OrderReturnLineItem{
					{CatalogObjectId: "VAR1", Quantity: "1", GrossSalesMoney: possync.Money{Amount: 450}, TotalMoney: possync.Money{Amount: 450}},
				},
			},
		},
	}
	engine.ProcessRefund(ctx, merchant, partial)

	ev := store.purchaseEvents[0]
	if ev.Reversed != nil && *ev.Reversed {
		t.Fatalf("partial return must not fully reverse: %+v", ev)
	}
	if ev.ReversedQuantity != 1 {
		t.Fatalf("unexpected reversed quantity: %+v", ev)
	}
	progress := store.progress[progressKey("M1", 7, "CUST1")]
	if progress.WindowQuantity != 2 || progress.LifetimeQuantity != 2 {
		t.Fatalf("progress not decremented by returned quantity: %+v", progress)
	}

	rest := &possync.Order{
		ID: "REF2",
		Returns: []possync.OrderReturn{
			{
				SourceOrderId: "ORD1",
				ReturnLineItems: []possync.OrderReturnLineItem{
					{CatalogObjectId: "VAR1", Quantity: "2", GrossSalesMoney: possync.Money{Amount: 900}, TotalMoney: possync.Money{Amount: 900}},
				},
			},
		},
	}
	engine.ProcessRefund(ctx, merchant, rest)

	ev = store.purchaseEvents[0]
	if ev.Reversed == nil || !*ev.Reversed || ev.ReversedQuantity != 3 {
		t.Fatalf("remainder return must complete the reversal: %+v", ev)
	}
	progress = store.progress[progressKey("M1", 7, "CUST1")]
	if progress.WindowQuantity != 0 || progress.LifetimeQuantity != 0 {
		t.Fatalf("progress not zeroed after full return: %+v", progress)
	}
}

func TestProcessRefundIgnoresFreeReturns(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	engine := newTestEngine(store, newFakeAPI())
	ctx := context.Background()

	engine.ProcessOrder(ctx, merchant, completedOrder("ORD1", "CUST1", line("VAR1", "1", 450, 450)), ProcessOptions{})

	refund := &possync.Order{
		ID: "REF1",
		Returns: []possync.OrderReturn{
			{
				SourceOrderId: "ORD1",
				ReturnLineItems: []possync.OrderReturnLineItem{
					{CatalogObjectId: "VAR1", Quantity: "1", GrossSalesMoney: possync.Money{Amount: 450}, TotalMoney: possync.Money{Amount: 0}},
				},
			},
		},
	}
	engine.ProcessRefund(ctx, merchant, refund)

	ev := store.purchaseEvents[0]
	if ev.Reversed != nil && *ev.Reversed {
		t.Fatalf("free return must not reverse a paid purchase")
	}
}

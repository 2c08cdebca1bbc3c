package loyalty

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
)

func TestBackfillProcessesAllPages(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	api := newFakeAPI()
	api.ordersByPage = [][]possync.Order{
		{*completedOrder("ORD1", "CUST1", line("VAR1", "2", 900, 900))},
		{*completedOrder("ORD2", "CUST1", line("VAR2", "1", 525, 525))},
	}
	engine := newTestEngine(store, api)

	result := engine.Backfill(context.Background(), merchant, BackfillOptions{
		Start:       mustTime(t, "2026-03-01T00:00:00Z"),
		End:         mustTime(t, "2026-04-01T00:00:00Z"),
		TriggeredBy: models.BackfillTriggeredManual,
	})

	if !result.Success {
		t.Fatalf("backfill failed: %+v", result)
	}
	if result.OrdersProcessed != 2 || result.LoyaltyPurchasesRecorded != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(store.runs) != 1 || store.runs[0].Status != models.BackfillRunStatusSuccess {
		t.Fatalf("unexpected run rows: %+v", store.runs)
	}
}

func TestBackfillContinuesPastFailingOrder(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	store.failProcessedScan = map[string]error{"ORD2": context.DeadlineExceeded}
	api := newFakeAPI()
	api.ordersByPage = [][]possync.Order{{
		*completedOrder("ORD1", "CUST1", line("VAR1", "2", 900, 900)),
		*completedOrder("ORD2", "CUST1", line("VAR2", "1", 525, 525)),
		*completedOrder("ORD3", "CUST1", line("VAR1", "1", 450, 450)),
	}}
	engine := newTestEngine(store, api)

	result := engine.Backfill(context.Background(), merchant, BackfillOptions{
		Start: mustTime(t, "2026-03-01T00:00:00Z"),
		End:   mustTime(t, "2026-04-01T00:00:00Z"),
	})

	if result.OrdersProcessed != 3 {
		t.Fatalf("failing order must still be counted: %+v", result)
	}
	if result.LoyaltyPurchasesRecorded != 2 {
		t.Fatalf("purchases must come only from successful orders: %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}
	if len(store.runErrors) != 1 || store.runErrors[0].ExternalId != "ORD2" {
		t.Fatalf("run error not captured: %+v", store.runErrors)
	}
	if len(store.runs) != 1 || store.runs[0].Status != models.BackfillRunStatusPartial {
		t.Fatalf("run status should be partial: %+v", store.runs[0])
	}
}

func TestBackfillSamplesUnidentifiableQualifyingOrders(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	api := newFakeAPI()
	api.ordersByPage = [][]possync.Order{{
		// Qualifying item, no identity anywhere.
		*completedOrder("ORD1", "", line("VAR1", "1", 450, 450)),
		// Untracked item, no identity: not worth sampling.
		*completedOrder("ORD2", "", line("OTHER", "1", 300, 300)),
	}}
	engine := newTestEngine(store, api)

	result := engine.Backfill(context.Background(), merchant, BackfillOptions{
		Start: mustTime(t, "2026-03-01T00:00:00Z"),
		End:   mustTime(t, "2026-04-01T00:00:00Z"),
	})

	if result.NoCustomerOrders != 2 {
		t.Fatalf("unexpected no-customer count: %+v", result)
	}
	if len(result.NoCustomerSamples) != 1 || result.NoCustomerSamples[0].OrderId != "ORD1" {
		t.Fatalf("unexpected samples: %+v", result.NoCustomerSamples)
	}
}

func TestBackfillWithPrefetchIdentifiesCustomers(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	api := newFakeAPI()
	api.ordersByPage = [][]possync.Order{{*completedOrder("ORD1", "", line("VAR1", "1", 450, 450))}}
	api.loyaltyEvents["ORD1"] = []possync.LoyaltyEvent{{ID: "EVT1", Type: possync.LoyaltyEventTypeAccumulate, OrderId: "ORD1", LoyaltyAccountId: "ACC1"}}
	api.accounts["ACC1"] = &possync.LoyaltyAccount{ID: "ACC1", CustomerId: "CUST1"}
	engine := newTestEngine(store, api)

	result := engine.Backfill(context.Background(), merchant, BackfillOptions{
		Start:       mustTime(t, "2026-03-01T00:00:00Z"),
		End:         mustTime(t, "2026-04-01T00:00:00Z"),
		UsePrefetch: true,
	})

	if result.CustomersIdentified != 1 || result.LoyaltyPurchasesRecorded != 1 {
		t.Fatalf("prefetch did not identify: %+v", result)
	}
	ev := store.purchaseEvents[0]
	if ev.CustomerId != "CUST1" || ev.IdentifiedBy != models.IdentifiedByPrefetch {
		t.Fatalf("unexpected event: %+v", ev)
	}
	// The whole point of prefetching: no per-order loyalty-event searches.
	if api.orderEventSearches != 0 {
		t.Fatalf("prefetch run made %d per-order event searches", api.orderEventSearches)
	}
}

func TestCatchupTrustsSearchedCustomer(t *testing.T) {
	merchant := testMerchant()
	store := newFakeStore(merchant, testOffer(12))
	api := newFakeAPI()
	// The order document itself carries no customer id; only the loyalty
	// account links it to CUST1, which the search-by-customer respects.
	api.ordersByPage = [][]possync.Order{{*completedOrder("ORD1", "", line("VAR1", "2", 900, 900))}}
	api.loyaltyEvents["ORD1"] = []possync.LoyaltyEvent{{ID: "EVT1", OrderId: "ORD1", LoyaltyAccountId: "ACC1"}}
	api.accounts["ACC1"] = &possync.LoyaltyAccount{ID: "ACC1", CustomerId: "CUST1"}
	engine := newTestEngine(store, api)

	result := engine.Catchup(context.Background(), merchant, CatchupOptions{
		Start:       mustTime(t, "2026-03-01T00:00:00Z"),
		End:         mustTime(t, "2026-04-01T00:00:00Z"),
		CustomerIds: []string{"CUST1"},
		TriggeredBy: models.BackfillTriggeredManual,
	})

	if !result.Success || result.OrdersProcessed != 1 || result.LoyaltyPurchasesRecorded != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	ev := store.purchaseEvents[0]
	if ev.CustomerId != "CUST1" || ev.IdentifiedBy != models.IdentifiedByLoyalty {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(store.runs) != 1 || store.runs[0].Kind != models.BackfillKindCatchup {
		t.Fatalf("unexpected run: %+v", store.runs)
	}
}

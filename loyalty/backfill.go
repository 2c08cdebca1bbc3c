package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
)

// BackfillOptions configures one historical sweep.
type BackfillOptions struct {
	Start       time.Time
	End         time.Time
	LocationIds []string
	UsePrefetch bool
	TriggeredBy string
	PageLimit   int
}

// NoCustomerSample is one unidentifiable-but-qualifying order kept for
// operator diagnostics.
type NoCustomerSample struct {
	OrderId   string `json:"order_id"`
	ClosedAt  string `json:"closed_at,omitempty"`
	LineItems int    `json:"line_items"`
}

// BackfillResult is the aggregate outcome of one sweep. Per-order failures
// are counted and sampled; they never abort the run.
type BackfillResult struct {
	Success                  bool               `json:"success"`
	Error                    string             `json:"error,omitempty"`
	RunId                    uint               `json:"run_id,omitempty"`
	OrdersProcessed          int                `json:"orders_processed"`
	LoyaltyPurchasesRecorded int                `json:"loyalty_purchases_recorded"`
	CustomersIdentified      int                `json:"customers_identified"`
	RewardsIssued            int                `json:"rewards_issued"`
	RedemptionsDetected      int                `json:"redemptions_detected"`
	NoCustomerOrders         int                `json:"no_customer_orders"`
	NoCustomerSamples        []NoCustomerSample `json:"no_customer_samples,omitempty"`
	Errors                   []string           `json:"errors,omitempty"`
}

// Backfill replays every completed order in [Start, End) through the
// processing pipeline. Idempotent by construction: orders already recorded
// resolve to already_processed and change nothing.
func (e *Engine) Backfill(ctx context.Context, merchant *models.Merchant, opts BackfillOptions) BackfillResult {
	result := BackfillResult{}

	run := &models.BackfillRun{
		MerchantId:  merchant.MerchantId,
		Kind:        models.BackfillKindBackfill,
		Status:      models.BackfillRunStatusQueued,
		TriggeredBy: opts.TriggeredBy,
		WindowStart: opts.Start,
		WindowEnd:   opts.End,
	}
	if err := e.store.CreateBackfillRun(ctx, run); err != nil {
		result.Error = err.Error()
		return result
	}
	result.RunId = run.ID
	startedAt := time.Now()
	run.Status = models.BackfillRunStatusRunning
	run.StartedAt = &startedAt
	if err := e.store.SaveBackfillRun(ctx, run); err != nil {
		config.LogError(e.logger, "loyalty", "Backfill", fmt.Sprint(run.ID), nil, err)
	}

	var prefetch *Prefetch
	if opts.UsePrefetch {
		built, err := e.BuildPrefetch(ctx, merchant, opts.Start, opts.End)
		if err != nil {
			// Degrade to per-order lookups rather than failing the sweep.
			config.LogError(e.logger, "loyalty", "Backfill", merchant.MerchantId, nil, err)
			result.Errors = append(result.Errors, err.Error())
		} else {
			prefetch = built
		}
	}

	locations := opts.LocationIds
	if len(locations) == 0 {
		locations = merchant.LocationIds()
	}
	limit := opts.PageLimit
	if limit <= 0 {
		limit = e.cfg.PageLimit
	}

	cursor := ""
	for {
		orders, next, err := e.api.SearchOrders(ctx, merchant, possync.OrderQuery{
			LocationIds: locations,
			States:      []string{"COMPLETED"},
			StartAt:     opts.Start.UTC().Format(time.RFC3339),
			EndAt:       opts.End.UTC().Format(time.RFC3339),
			Cursor:      cursor,
			Limit:       limit,
		})
		if err != nil {
			result.Error = err.Error()
			e.finishRun(ctx, run, &result, startedAt)
			return result
		}

		for i := range orders {
			order := &orders[i]
			result.OrdersProcessed++
			e.backfillOrder(ctx, merchant, order, prefetch, run, &result)
		}

		if next == "" {
			break
		}
		cursor = next
	}

	result.Success = true
	e.finishRun(ctx, run, &result, startedAt)
	return result
}

func (e *Engine) backfillOrder(ctx context.Context, merchant *models.Merchant, order *possync.Order, prefetch *Prefetch, run *models.BackfillRun, result *BackfillResult) {
	processed := e.ProcessOrder(ctx, merchant, order, ProcessOptions{Prefetch: prefetch})

	if !processed.Success {
		result.Errors = append(result.Errors, processed.Error)
		e.recordRunError(ctx, run, "order", order.ID, processed.Error)
		return
	}

	switch processed.Outcome {
	case OutcomeProcessed:
		result.LoyaltyPurchasesRecorded += processed.EventsRecorded
		result.CustomersIdentified++
		if processed.RewardIssuedId != 0 {
			result.RewardsIssued++
		}
		if processed.RedemptionDetected {
			result.RedemptionsDetected++
		}
	case OutcomeNoCustomer:
		result.NoCustomerOrders++
		if e.hasQualifyingItems(ctx, merchant, order) && len(result.NoCustomerSamples) < e.cfg.NoCustomerSampleCap {
			result.NoCustomerSamples = append(result.NoCustomerSamples, NoCustomerSample{
				OrderId:   order.ID,
				ClosedAt:  order.ClosedAt,
				LineItems: len(order.LineItems),
			})
		}
	}

	if len(order.Returns) > 0 {
		refund := e.ProcessRefund(ctx, merchant, order)
		if !refund.Success {
			result.Errors = append(result.Errors, refund.Error)
			e.recordRunError(ctx, run, "refund", order.ID, refund.Error)
		}
	}
}

// hasQualifyingItems reports whether an order carries at least one tracked
// variation, so the no-customer sample only surfaces orders worth chasing.
func (e *Engine) hasQualifyingItems(ctx context.Context, merchant *models.Merchant, order *possync.Order) bool {
	offers, err := e.store.ActiveOffers(ctx, merchant.MerchantId)
	if err != nil {
		return false
	}
	tracked := map[string]bool{}
	for _, offer := range offers {
		for _, variation := range offer.Variations {
			tracked[variation.VariationId] = true
		}
	}
	for _, line := range order.LineItems {
		if tracked[line.CatalogObjectId] {
			return true
		}
	}
	return false
}

func (e *Engine) finishRun(ctx context.Context, run *models.BackfillRun, result *BackfillResult, startedAt time.Time) {
	finishedAt := time.Now()
	run.FinishedAt = &finishedAt
	run.DurationMs = finishedAt.Sub(startedAt).Milliseconds()
	run.ErrorCount = len(result.Errors)
	switch {
	case result.Error != "":
		run.Status = models.BackfillRunStatusFailed
	case len(result.Errors) > 0:
		run.Status = models.BackfillRunStatusPartial
	default:
		run.Status = models.BackfillRunStatusSuccess
	}
	if stats, err := json.Marshal(result); err == nil {
		run.StatsJSON = stats
	}
	if err := e.store.SaveBackfillRun(ctx, run); err != nil {
		config.LogError(e.logger, "loyalty", "finishRun", fmt.Sprint(run.ID), nil, err)
	}
}

func (e *Engine) recordRunError(ctx context.Context, run *models.BackfillRun, entityType string, externalId string, message string) {
	err := e.store.CreateBackfillError(ctx, &models.BackfillError{
		RunId:      run.ID,
		MerchantId: run.MerchantId,
		EntityType: entityType,
		ExternalId: externalId,
		Message:    message,
		Retryable:  true,
	})
	if err != nil {
		config.LogError(e.logger, "loyalty", "recordRunError", fmt.Sprint(run.ID), nil, err)
	}
}

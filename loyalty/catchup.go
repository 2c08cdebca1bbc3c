package loyalty

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
)

// CatchupOptions configures a per-customer catchup run. Empty CustomerIds
// means every customer the engine has already seen for the merchant.
type CatchupOptions struct {
	Start       time.Time
	End         time.Time
	CustomerIds []string
	TriggeredBy string
}

// Catchup re-walks the order history of specific customers and records any
// purchases the live pipeline missed. Unlike a backfill sweep, identity is
// already known here, so orders that carry no customer field still count.
func (e *Engine) Catchup(ctx context.Context, merchant *models.Merchant, opts CatchupOptions) BackfillResult {
	result := BackfillResult{}

	run := &models.BackfillRun{
		MerchantId:  merchant.MerchantId,
		Kind:        models.BackfillKindCatchup,
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
		config.LogError(e.logger, "loyalty", "Catchup", fmt.Sprint(run.ID), nil, err)
	}

	customerIds := opts.CustomerIds
	if len(customerIds) == 0 {
		known, err := e.store.KnownCustomerIds(ctx, merchant.MerchantId)
		if err != nil {
			result.Error = err.Error()
			e.finishRun(ctx, run, &result, startedAt)
			return result
		}
		customerIds = known
	}

	for _, customerId := range customerIds {
		if err := e.catchupCustomer(ctx, merchant, customerId, opts, run, &result); err != nil {
			result.Errors = append(result.Errors, err.Error())
			e.recordRunError(ctx, run, "customer", customerId, err.Error())
		}
	}

	result.Success = true
	e.finishRun(ctx, run, &result, startedAt)
	return result
}

func (e *Engine) catchupCustomer(ctx context.Context, merchant *models.Merchant, customerId string, opts CatchupOptions, run *models.BackfillRun, result *BackfillResult) error {
	cursor := ""
	for {
		orders, next, err := e.api.SearchOrders(ctx, merchant, possync.OrderQuery{
			LocationIds: merchant.LocationIds(),
			CustomerIds: []string{customerId},
			States:      []string{"COMPLETED"},
			StartAt:     opts.Start.UTC().Format(time.RFC3339),
			EndAt:       opts.End.UTC().Format(time.RFC3339),
			Cursor:      cursor,
			Limit:       e.cfg.PageLimit,
		})
		if err != nil {
			return err
		}

		for i := range orders {
			order := &orders[i]
			result.OrdersProcessed++

			processOpts := ProcessOptions{}
			if order.CustomerId == "" {
				// The search matched on customer, so trust that identity even
				// when the order document itself omits it.
				processOpts.Override = &IdentityOverride{
					CustomerId: customerId,
					Method:     models.IdentifiedByLoyalty,
				}
			}
			e.backfillOrderWithOptions(ctx, merchant, order, processOpts, run, result)
		}

		if next == "" {
			return nil
		}
		cursor = next
	}
}

func (e *Engine) backfillOrderWithOptions(ctx context.Context, merchant *models.Merchant, order *possync.Order, opts ProcessOptions, run *models.BackfillRun, result *BackfillResult) {
	processed := e.ProcessOrder(ctx, merchant, order, opts)
	if !processed.Success {
		result.Errors = append(result.Errors, processed.Error)
		e.recordRunError(ctx, run, "order", order.ID, processed.Error)
		return
	}
	if processed.Outcome == OutcomeProcessed {
		result.LoyaltyPurchasesRecorded += processed.EventsRecorded
		result.CustomersIdentified++
		if processed.RewardIssuedId != 0 {
			result.RewardsIssued++
		}
		if processed.RedemptionDetected {
			result.RedemptionsDetected++
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

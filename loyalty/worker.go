package loyalty

import (
	"context"
	"encoding/json"
	"os"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/utils"
)

// OrderEventPayload is the Pub/Sub message body for one completed order.
type OrderEventPayload struct {
	MerchantId string `json:"merchant_id"`
	OrderId    string `json:"order_id"`
}

func orderTopicName() string {
	if topic := os.Getenv("LOYALTY_ORDER_TOPIC"); topic != "" {
		return topic
	}
	return "loyalty-order-events"
}

// PublishOrderEvent enqueues one order for asynchronous processing.
func PublishOrderEvent(ctx context.Context, merchantId string, orderId string) (string, error) {
	return config.PublishJSON(ctx, orderTopicName(), OrderEventPayload{
		MerchantId: merchantId,
		OrderId:    orderId,
	})
}

// HandleOrderEvent loads the merchant and order behind one payload and runs
// the processing pipeline. A false return means the message should be
// redelivered.
func (e *Engine) HandleOrderEvent(ctx context.Context, payload OrderEventPayload) bool {
	ctx = utils.SetMerchantIdInContext(ctx, payload.MerchantId)
	if _, ok := utils.GetCorrelationIdFromContext(ctx); !ok {
		ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	}

	merchant, err := e.store.GetMerchant(ctx, payload.MerchantId)
	if err != nil || merchant == nil {
		config.LogError(e.logger, "loyalty", "HandleOrderEvent", payload.MerchantId, payload, err)
		// Unknown merchants will not become known on redelivery.
		return err == nil
	}

	order, err := e.api.GetOrder(ctx, merchant, payload.OrderId)
	if err != nil {
		config.LogError(e.logger, "loyalty", "HandleOrderEvent", payload.OrderId, payload, err)
		return false
	}

	result := e.ProcessOrder(ctx, merchant, order, ProcessOptions{})
	if !result.Success {
		e.logger.WithFields(map[string]interface{}{
			"merchant_id": payload.MerchantId,
			"order_id":    payload.OrderId,
			"outcome":     result.Outcome,
			"error":       result.Error,
		}).Warn("order processing failed")
		return false
	}

	if len(order.Returns) > 0 {
		refund := e.ProcessRefund(ctx, merchant, order)
		if !refund.Success {
			return false
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"merchant_id":     payload.MerchantId,
		"order_id":        payload.OrderId,
		"outcome":         result.Outcome,
		"events_recorded": result.EventsRecorded,
	}).Info("order event handled")
	return true
}

// RunSubscriber consumes order events until ctx ends. It provisions the
// topic and subscription on first run.
func (e *Engine) RunSubscriber(ctx context.Context, subscriptionName string) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, orderTopicName())
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, subscriptionName, topic)
	if err != nil {
		return err
	}

	e.logger.WithField("subscription", subscriptionName).Info("loyalty subscriber started")
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var payload OrderEventPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			config.LogError(e.logger, "loyalty", "RunSubscriber", "", string(msg.Data), err)
			msg.Ack()
			return
		}
		if payload.MerchantId == "" || payload.OrderId == "" {
			msg.Ack()
			return
		}
		if e.HandleOrderEvent(ctx, payload) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
}

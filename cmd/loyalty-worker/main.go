package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/loyalty"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"bitbucket.org/mmdatafocus/loyalty_backend/utils"
)

func main() {
	subscription := flag.String("subscription", "loyalty-order-worker", "Pub/Sub subscription to consume order events from.")
	merchantID := flag.String("merchant-id", "", "Direct mode: process one order and exit (with -order-id).")
	orderID := flag.String("order-id", "", "Direct mode: order to process (with -merchant-id).")
	migrate := flag.Bool("migrate", config.EnvBoolDefault("RUN_MIGRATIONS", true), "Run schema migration before starting.")
	flag.Parse()

	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	if *migrate {
		models.MigrateTable()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = utils.SetActorInContext(ctx, "LoyaltyWorker")

	client := possync.NewClient(logger)
	cache := loyalty.NewIdentityCache(client, logger)
	engine := loyalty.NewEngine(loyalty.NewGormStore(config.GetDB()), client, cache, logger, loyalty.EngineConfig{
		Locker: config.GetRedisLock(),
	})

	// Direct mode bypasses the queue; useful when replaying a single order.
	if *merchantID != "" || *orderID != "" {
		if *merchantID == "" || *orderID == "" {
			fmt.Fprintln(os.Stderr, "direct mode needs both -merchant-id and -order-id")
			os.Exit(2)
		}
		if !engine.HandleOrderEvent(ctx, loyalty.OrderEventPayload{MerchantId: *merchantID, OrderId: *orderID}) {
			os.Exit(1)
		}
		return
	}

	if err := engine.RunSubscriber(ctx, *subscription); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "subscriber stopped: %v\n", err)
		os.Exit(1)
	}
	logger.Info("loyalty worker shut down")
}

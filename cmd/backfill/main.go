package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/loyalty"
	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"bitbucket.org/mmdatafocus/loyalty_backend/utils"
)

func main() {
	merchantID := flag.String("merchant-id", "", "Merchant to backfill (required).")
	from := flag.String("from", "", "Start date (YYYY-MM-DD, required).")
	to := flag.String("to", "", "End date (YYYY-MM-DD). Defaults to today.")
	locations := flag.String("locations", "", "Optional: comma-separated location ids. Defaults to merchant config.")
	prefetch := flag.Bool("prefetch", true, "Bulk-load loyalty events for identity resolution.")
	catchup := flag.Bool("catchup", false, "Run per-customer catchup instead of an order sweep.")
	customers := flag.String("customers", "", "Optional (catchup): comma-separated customer ids. Defaults to all known customers.")
	flag.Parse()

	if strings.TrimSpace(*merchantID) == "" || strings.TrimSpace(*from) == "" {
		flag.Usage()
		os.Exit(2)
	}
	start, err := time.Parse("2006-01-02", *from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad -from date: %v\n", err)
		os.Exit(2)
	}
	end := time.Now()
	if strings.TrimSpace(*to) != "" {
		end, err = time.Parse("2006-01-02", *to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad -to date: %v\n", err)
			os.Exit(2)
		}
		end = end.AddDate(0, 0, 1)
	}

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetActorInContext(ctx, "BackfillCLI")
	ctx = utils.SetMerchantIdInContext(ctx, *merchantID)

	store := loyalty.NewGormStore(config.GetDB())
	merchant, err := store.GetMerchant(ctx, *merchantID)
	if err != nil || merchant == nil {
		fmt.Fprintf(os.Stderr, "merchant %s not found: %v\n", *merchantID, err)
		os.Exit(1)
	}

	client := possync.NewClient(logger)
	cache := loyalty.NewIdentityCache(client, logger)
	engine := loyalty.NewEngine(store, client, cache, logger, loyalty.EngineConfig{
		Locker: config.GetRedisLock(),
	})

	var result loyalty.BackfillResult
	if *catchup {
		var customerIds []string
		if strings.TrimSpace(*customers) != "" {
			customerIds = strings.Split(strings.TrimSpace(*customers), ",")
		}
		result = engine.Catchup(ctx, merchant, loyalty.CatchupOptions{
			Start:       start,
			End:         end,
			CustomerIds: customerIds,
			TriggeredBy: models.BackfillTriggeredManual,
		})
	} else {
		var locationIds []string
		if strings.TrimSpace(*locations) != "" {
			locationIds = strings.Split(strings.TrimSpace(*locations), ",")
		}
		result = engine.Backfill(ctx, merchant, loyalty.BackfillOptions{
			Start:       start,
			End:         end,
			LocationIds: locationIds,
			UsePrefetch: *prefetch,
			TriggeredBy: models.BackfillTriggeredManual,
		})
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Success {
		os.Exit(1)
	}
}

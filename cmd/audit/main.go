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
	merchantID := flag.String("merchant-id", "", "Merchant to audit (required).")
	customerID := flag.String("customer-id", "", "Customer whose history to reconstruct (required).")
	from := flag.String("from", "", "Start date (YYYY-MM-DD, required).")
	to := flag.String("to", "", "End date (YYYY-MM-DD). Defaults to today.")
	raiseCaps := flag.Bool("raise-caps", false, "Instead of auditing, recompute caps for all outstanding rewards.")
	refresh := flag.Bool("refresh-customers", false, "Instead of auditing, refresh cached customer details.")
	flag.Parse()

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetActorInContext(ctx, "AuditCLI")

	store := loyalty.NewGormStore(config.GetDB())
	client := possync.NewClient(logger)
	cache := loyalty.NewIdentityCache(client, logger)
	engine := loyalty.NewEngine(store, client, cache, logger, loyalty.EngineConfig{
		Locker: config.GetRedisLock(),
	})

	if *raiseCaps {
		printJSON(engine.RaiseRewardCaps(ctx))
		return
	}

	if strings.TrimSpace(*merchantID) == "" {
		flag.Usage()
		os.Exit(2)
	}
	ctx = utils.SetMerchantIdInContext(ctx, *merchantID)
	merchant, err := store.GetMerchant(ctx, *merchantID)
	if err != nil || merchant == nil {
		fmt.Fprintf(os.Stderr, "merchant %s not found: %v\n", *merchantID, err)
		os.Exit(1)
	}

	if *refresh {
		printJSON(engine.RefreshCustomerDetails(ctx, merchant))
		return
	}

	if strings.TrimSpace(*customerID) == "" || strings.TrimSpace(*from) == "" {
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

	result := engine.AuditCustomer(ctx, merchant, *customerID, start, end)
	printJSON(result)
	if !result.Success {
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

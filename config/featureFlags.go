package config

import (
	"os"
	"strings"
)

// LoyaltyKillSwitchEngaged disables all loyalty processing globally,
// regardless of per-merchant settings. Emergency use only.
//
// Set via env:
// - LOYALTY_KILL_SWITCH=true
func LoyaltyKillSwitchEngaged() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LOYALTY_KILL_SWITCH")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// LoyaltyEnabledForMerchant gates loyalty processing per merchant on top of
// the merchant row's own enabled flag.
//
// Set via env:
// - LOYALTY_MERCHANTS="MERCH_A,MERCH_B" (empty = all merchants eligible)
//
// Merchant ids are case-sensitive external ids.
func LoyaltyEnabledForMerchant(merchantId string) bool {
	if LoyaltyKillSwitchEngaged() {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("LOYALTY_MERCHANTS"))
	if raw == "" {
		return true
	}
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == merchantId {
			return true
		}
	}
	return false
}

// EnvBoolDefault reads a boolean env var with a default.
func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

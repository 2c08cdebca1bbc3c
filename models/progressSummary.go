package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProgressSummary is the per (merchant, offer, customer) aggregate the
// processor advances after each qualifying purchase. Window boundaries roll
// forward, never backward.
type ProgressSummary struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	MerchantId       string          `gorm:"uniqueIndex:uniq_progress,priority:1;size:64;not null" json:"merchant_id"`
	OfferId          uint            `gorm:"uniqueIndex:uniq_progress,priority:2;not null" json:"offer_id"`
	CustomerId       string          `gorm:"uniqueIndex:uniq_progress,priority:3;size:128;not null" json:"customer_id"`
	WindowQuantity   int             `gorm:"not null;default:0" json:"window_quantity"`
	WindowStart      *time.Time      `json:"window_start"`
	WindowEnd        *time.Time      `json:"window_end"`
	LifetimeQuantity int             `gorm:"not null;default:0" json:"lifetime_quantity"`
	LifetimeAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"lifetime_amount"`
	RewardEarned     *bool           `gorm:"not null;default:false" json:"reward_earned"`
	CurrentRewardId  *uint           `json:"current_reward_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

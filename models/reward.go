package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reward is an earned-then-redeemable benefit tied to one customer and one
// offer. The four POS object ids are either all present or all absent;
// partial saga state must not persist. They are cleared again on cleanup.
type Reward struct {
	ID            uint            `gorm:"primary_key" json:"id"`
	MerchantId    string          `gorm:"index;size:64;not null" json:"merchant_id"`
	OfferId       uint            `gorm:"index;not null" json:"offer_id"`
	CustomerId    string          `gorm:"index;size:128;not null" json:"customer_id"`
	Status        RewardStatus    `gorm:"size:20;not null;index" json:"status"`
	GroupId       string          `gorm:"size:128" json:"group_id"`
	DiscountId    string          `gorm:"size:128;index" json:"discount_id"`
	ProductSetId  string          `gorm:"size:128" json:"product_set_id"`
	PricingRuleId string          `gorm:"size:128;index" json:"pricing_rule_id"`
	CapAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cap_amount"`
	EarnedAt      time.Time       `gorm:"not null" json:"earned_at"`
	RedeemedAt    *time.Time      `json:"redeemed_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Issued reports whether the POS-side discount objects currently exist.
func (r *Reward) Issued() bool {
	return r.GroupId != "" && r.DiscountId != "" && r.ProductSetId != "" && r.PricingRuleId != ""
}

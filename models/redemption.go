package models

import "time"

// Redemption records a confirmed consumption of an issued reward. OrderId is
// optional: when present it links to the order that consumed the discount and
// lets the audit cross-reference orders whose discount evidence was removed
// after the fact.
type Redemption struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	MerchantId string    `gorm:"index;size:64;not null" json:"merchant_id"`
	RewardId   uint      `gorm:"index;not null" json:"reward_id"`
	OfferId    uint      `gorm:"index;not null" json:"offer_id"`
	CustomerId string    `gorm:"index;size:128;not null" json:"customer_id"`
	OrderId    string    `gorm:"index;size:128" json:"order_id"`
	RedeemedAt time.Time `gorm:"not null" json:"redeemed_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

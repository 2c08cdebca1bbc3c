package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseEvent is one persisted record of a customer buying a qualifying
// item in a specific order. Append-only. The unique key
// (merchant_id, order_id, variation_id) is the idempotency guard: two
// simultaneous attempts to process the same order line have exactly one
// succeed.
type PurchaseEvent struct {
	ID           uint            `gorm:"primary_key" json:"id"`
	MerchantId   string          `gorm:"uniqueIndex:uniq_purchase_event,priority:1;size:64;not null" json:"merchant_id"`
	OrderId      string          `gorm:"uniqueIndex:uniq_purchase_event,priority:2;size:128;not null" json:"order_id"`
	VariationId  string          `gorm:"uniqueIndex:uniq_purchase_event,priority:3;size:128;not null" json:"variation_id"`
	OfferId      uint            `gorm:"index;not null" json:"offer_id"`
	CustomerId   string          `gorm:"index;size:128;not null" json:"customer_id"`
	Quantity     int             `gorm:"not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	PurchasedAt  time.Time       `gorm:"not null;index" json:"purchased_at"`
	PaymentType  string          `gorm:"size:50" json:"payment_type"`
	IdentifiedBy IdentifiedBy    `gorm:"size:20;not null" json:"identified_by"`
	// Partial returns accumulate in ReversedQuantity; the Reversed flag flips
	// once the full quantity has come back.
	Reversed         *bool     `gorm:"not null;default:false" json:"reversed"`
	ReversedQuantity int       `gorm:"not null;default:0" json:"reversed_quantity"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

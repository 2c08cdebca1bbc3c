package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is one configured loyalty rule: buy RequiredQuantity units of any
// qualifying variation within a rolling WindowMonths window, earn one reward.
// Offers are immutable once published; they are configured out-of-band.
type Offer struct {
	ID               uint              `gorm:"primary_key" json:"id"`
	MerchantId       string            `gorm:"index;size:64;not null" json:"merchant_id"`
	BrandTag         string            `gorm:"size:100;not null" json:"brand_tag"`
	SizeGroup        string            `gorm:"size:50;not null" json:"size_group"`
	RequiredQuantity int               `gorm:"not null" json:"required_quantity"`
	WindowMonths     int               `gorm:"not null" json:"window_months"`
	Active           *bool             `gorm:"not null;default:true" json:"active"`
	Variations       []*OfferVariation `json:"variations"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// OfferVariation enrolls one product variation in an offer. Price mirrors the
// current catalog price and feeds the reward safety cap.
type OfferVariation struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	OfferId     uint            `gorm:"index;not null" json:"offer_id"`
	MerchantId  string          `gorm:"index;size:64;not null" json:"merchant_id"`
	VariationId string          `gorm:"uniqueIndex:uniq_offer_variation;size:128;not null" json:"variation_id"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Offer) TagLine() string {
	return "LOYALTY:" + o.BrandTag + ":" + o.SizeGroup
}

package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
)

// Merchant holds the per-merchant platform credentials and settings.
// MerchantId is the external platform's merchant identifier.
type Merchant struct {
	ID              uint      `gorm:"primary_key" json:"id"`
	MerchantId      string    `gorm:"uniqueIndex;size:64;not null" json:"merchant_id"`
	Name            string    `gorm:"size:255" json:"name"`
	AccessToken     string    `gorm:"type:text;not null" json:"-"`
	LocationIdsJSON []byte    `gorm:"type:json" json:"location_ids"`
	LoyaltyEnabled  *bool     `gorm:"not null;default:true" json:"loyalty_enabled"`
	CountryCode     string    `gorm:"size:4;default:'US'" json:"country_code"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetMerchantById(ctx context.Context, merchantId string) (*Merchant, error) {
	var merchant Merchant
	err := config.GetDB().WithContext(ctx).
		Where("merchant_id = ?", merchantId).
		Take(&merchant).Error
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

// LocationIds decodes the merchant's configured platform locations. Empty
// means all locations.
func (m *Merchant) LocationIds() []string {
	if len(m.LocationIdsJSON) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(m.LocationIdsJSON, &ids); err != nil {
		return nil
	}
	return ids
}

// IsLoyaltyEnabled combines the merchant row flag with the env-level gates.
func (m *Merchant) IsLoyaltyEnabled() bool {
	if m.LoyaltyEnabled != nil && !*m.LoyaltyEnabled {
		return false
	}
	return config.LoyaltyEnabledForMerchant(m.MerchantId)
}

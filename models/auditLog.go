package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/config"
	"bitbucket.org/mmdatafocus/loyalty_backend/utils"
)

// AuditLogEntry is the append-only operator trail of notable lifecycle
// actions (reward issued, manual backfill run, redemption cleanup).
type AuditLogEntry struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	MerchantId string    `gorm:"index;size:64;not null" json:"merchant_id"`
	Action     string    `gorm:"size:100;not null" json:"action"`
	Actor      string    `gorm:"size:100" json:"actor"`
	DetailJSON []byte    `gorm:"type:json" json:"detail"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AppendAuditLog is fire-and-forget: failures are logged, never surfaced to
// the caller.
func AppendAuditLog(ctx context.Context, merchantId string, action string, detail any) {
	if config.GetDB() == nil {
		return
	}
	actor, _ := utils.GetActorFromContext(ctx)
	detailJSON, _ := json.Marshal(detail)
	entry := AuditLogEntry{
		MerchantId: merchantId,
		Action:     action,
		Actor:      actor,
		DetailJSON: detailJSON,
	}
	if err := config.GetDB().WithContext(ctx).Create(&entry).Error; err != nil {
		config.LogError(config.GetLogger(), "models", "AppendAuditLog", action, nil, err)
	}
}

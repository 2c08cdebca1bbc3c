package models

import "time"

// BackfillRun tracks one backfill or catchup execution for operator
// visibility. Mirrors are persisted even when individual orders fail; batch
// runs never abort on a single order.
type BackfillRun struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	MerchantId  string     `gorm:"index;size:64;not null" json:"merchant_id"`
	Kind        string     `gorm:"size:20;not null" json:"kind"`
	Status      string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy string     `gorm:"size:20" json:"triggered_by"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	StatsJSON   []byte     `gorm:"type:json" json:"stats"`
	ErrorCount  int        `json:"error_count"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BackfillError is one per-order/per-customer failure captured during a run.
type BackfillError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	RunId       uint      `gorm:"index;not null" json:"run_id"`
	MerchantId  string    `gorm:"index;size:64;not null" json:"merchant_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

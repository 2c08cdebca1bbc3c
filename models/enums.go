package models

// IdentifiedBy records which resolver step produced the customer identity
// attached to a purchase event.
type IdentifiedBy string

const (
	IdentifiedByOrder       IdentifiedBy = "order"
	IdentifiedByTender      IdentifiedBy = "tender"
	IdentifiedByLoyalty     IdentifiedBy = "loyalty-lookup"
	IdentifiedByFulfillment IdentifiedBy = "fulfillment"
	IdentifiedByManual      IdentifiedBy = "manual"
	IdentifiedByPrefetch    IdentifiedBy = "prefetch"
)

type RewardStatus string

const (
	RewardStatusEarned   RewardStatus = "earned"
	RewardStatusRedeemed RewardStatus = "redeemed"
)

const (
	BackfillRunStatusQueued  = "queued"
	BackfillRunStatusRunning = "running"
	BackfillRunStatusSuccess = "success"
	BackfillRunStatusFailed  = "failed"
	BackfillRunStatusPartial = "partial"
)

const (
	BackfillTriggeredManual = "manual"
	BackfillTriggeredSystem = "system"
)

const (
	BackfillKindBackfill = "backfill"
	BackfillKindCatchup  = "catchup"
)

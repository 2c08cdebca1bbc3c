package loyalty

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDuplicatePurchaseEvent maps the datastore's unique-key violation on
	// (merchant, order, variation). The losing writer of a race treats it as
	// "already processed", not a failure.
	ErrDuplicatePurchaseEvent = errors.New("purchase event already recorded")

	// ErrNoPriceData is the fail-closed refusal to issue an uncapped discount.
	ErrNoPriceData = errors.New("no price data available for reward cap")
)

// Store is the datastore surface of the engine. The GORM implementation is
// GormStore; tests substitute fakes.
type Store interface {
	GetMerchant(ctx context.Context, merchantId string) (*models.Merchant, error)

	OrderProcessed(ctx context.Context, merchantId string, orderId string) (bool, error)
	CreatePurchaseEvent(ctx context.Context, ev *models.PurchaseEvent) error
	PurchaseEventsByOrder(ctx context.Context, merchantId string, orderId string) ([]models.PurchaseEvent, error)
	SavePurchaseEvent(ctx context.Context, ev *models.PurchaseEvent) error

	ActiveOffers(ctx context.Context, merchantId string) ([]models.Offer, error)
	GetOffer(ctx context.Context, merchantId string, offerId uint) (*models.Offer, error)

	GetProgress(ctx context.Context, merchantId string, offerId uint, customerId string) (*models.ProgressSummary, error)
	SaveProgress(ctx context.Context, summary *models.ProgressSummary) error

	CreateReward(ctx context.Context, reward *models.Reward) error
	SaveReward(ctx context.Context, reward *models.Reward) error
	GetReward(ctx context.Context, id uint) (*models.Reward, error)
	EarnedUnredeemedRewards(ctx context.Context) ([]models.Reward, error)
	FindEarnedReward(ctx context.Context, merchantId string, offerId uint, customerId string) (*models.Reward, error)
	FindRewardByPOSObject(ctx context.Context, merchantId string, objectId string) (*models.Reward, error)
	MaxUnitPrice(ctx context.Context, merchantId string, offerId uint, customerId string) (decimal.Decimal, error)

	CreateRedemption(ctx context.Context, redemption *models.Redemption) error
	RedemptionsByCustomer(ctx context.Context, merchantId string, customerId string) ([]models.Redemption, error)
	RedemptionByOrder(ctx context.Context, merchantId string, orderId string) (*models.Redemption, error)

	KnownCustomerIds(ctx context.Context, merchantId string) ([]string, error)

	CreateBackfillRun(ctx context.Context, run *models.BackfillRun) error
	SaveBackfillRun(ctx context.Context, run *models.BackfillRun) error
	CreateBackfillError(ctx context.Context, e *models.BackfillError) error
}

// EngineConfig enumerates every recognized engine option and its default.
type EngineConfig struct {
	// Locker serializes progress updates per customer/offer across workers.
	// Optional; the purchase-event unique key remains the hard guard.
	Locker *redislock.Client

	// PageLimit is the page size for paginated platform searches. Default 100.
	PageLimit int

	// NoCustomerSampleCap bounds the diagnostic sample of unidentifiable
	// orders a backfill result carries. Default 10.
	NoCustomerSampleCap int

	// RefreshWorkers bounds concurrent customer-detail lookups. Default 5,
	// sized to respect platform rate limits.
	RefreshWorkers int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.PageLimit <= 0 {
		c.PageLimit = 100
	}
	if c.NoCustomerSampleCap <= 0 {
		c.NoCustomerSampleCap = 10
	}
	if c.RefreshWorkers <= 0 {
		c.RefreshWorkers = 5
	}
	return c
}

// Engine is the reward lifecycle engine. All dependencies are injected; there
// are no lazily-initialized globals.
type Engine struct {
	store  Store
	api    possync.API
	cache  *IdentityCache
	logger *logrus.Logger
	cfg    EngineConfig
}

func NewEngine(store Store, api possync.API, cache *IdentityCache, logger *logrus.Logger, cfg EngineConfig) *Engine {
	return &Engine{
		store:  store,
		api:    api,
		cache:  cache,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// ProcessOutcome is the terminal disposition of one order.
type ProcessOutcome string

const (
	OutcomeProcessed        ProcessOutcome = "processed"
	OutcomeAlreadyProcessed ProcessOutcome = "already_processed"
	OutcomeNoCustomer       ProcessOutcome = "no_customer"
	OutcomeDisabled         ProcessOutcome = "disabled"
	OutcomeNoQualifying     ProcessOutcome = "no_qualifying_items"
)

// Line-item skip reasons.
const (
	ReasonEligible       = "eligible"
	ReasonNoVariation    = "no_variation"
	ReasonZeroQuantity   = "zero_quantity"
	ReasonFreeItem       = "free_item"
	ReasonRewardDiscount = "reward_redemption"
	ReasonNotEnrolled    = "not_enrolled"
	ReasonLineError      = "line_error"
	ReasonDuplicate      = "already_recorded"
)

type LineOutcome struct {
	VariationId string `json:"variation_id"`
	Quantity    int    `json:"quantity"`
	Eligible    bool   `json:"eligible"`
	Reason      string `json:"reason"`
}

// ProcessResult is the structured outcome every public entry point returns;
// failures surface here, not as panics or opaque errors.
type ProcessResult struct {
	Success            bool                `json:"success"`
	Error              string              `json:"error,omitempty"`
	Outcome            ProcessOutcome      `json:"outcome"`
	OrderId            string              `json:"order_id"`
	CustomerId         string              `json:"customer_id,omitempty"`
	IdentifiedBy       models.IdentifiedBy `json:"identified_by,omitempty"`
	EventsRecorded     int                 `json:"events_recorded"`
	RewardIssuedId     uint                `json:"reward_issued_id,omitempty"`
	RedemptionDetected bool                `json:"redemption_detected,omitempty"`
	Lines              []LineOutcome       `json:"lines,omitempty"`
}

// IdentityOverride lets manual/audit callers supply the customer directly,
// bypassing the resolver chain.
type IdentityOverride struct {
	CustomerId string
	Method     models.IdentifiedBy
}

// ProcessOptions configures one ProcessOrder call.
type ProcessOptions struct {
	Override *IdentityOverride
	Prefetch *Prefetch
}

func monthsAfter(t time.Time, months int) time.Time {
	return t.AddDate(0, months, 0)
}

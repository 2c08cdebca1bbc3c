package loyalty

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormStore is the MySQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func (s *GormStore) GetMerchant(ctx context.Context, merchantId string) (*models.Merchant, error) {
	var merchant models.Merchant
	err := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantId).
		Take(&merchant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &merchant, nil
}

func (s *GormStore) OrderProcessed(ctx context.Context, merchantId string, orderId string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PurchaseEvent{}).
		Where("merchant_id = ? AND order_id = ?", merchantId, orderId).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) CreatePurchaseEvent(ctx context.Context, ev *models.PurchaseEvent) error {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return ErrDuplicatePurchaseEvent
		}
		return err
	}
	return nil
}

func (s *GormStore) PurchaseEventsByOrder(ctx context.Context, merchantId string, orderId string) ([]models.PurchaseEvent, error) {
	var events []models.PurchaseEvent
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND order_id = ?", merchantId, orderId).
		Find(&events).Error
	return events, err
}

func (s *GormStore) SavePurchaseEvent(ctx context.Context, ev *models.PurchaseEvent) error {
	return s.db.WithContext(ctx).Save(ev).Error
}

func (s *GormStore) ActiveOffers(ctx context.Context, merchantId string) ([]models.Offer, error) {
	var offers []models.Offer
	err := s.db.WithContext(ctx).
		Preload("Variations").
		Where("merchant_id = ? AND active = ?", merchantId, true).
		Find(&offers).Error
	return offers, err
}

func (s *GormStore) GetOffer(ctx context.Context, merchantId string, offerId uint) (*models.Offer, error) {
	var offer models.Offer
	err := s.db.WithContext(ctx).
		Preload("Variations").
		Where("merchant_id = ? AND id = ?", merchantId, offerId).
		Take(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

func (s *GormStore) GetProgress(ctx context.Context, merchantId string, offerId uint, customerId string) (*models.ProgressSummary, error) {
	var summary models.ProgressSummary
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND offer_id = ? AND customer_id = ?", merchantId, offerId, customerId).
		Take(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

func (s *GormStore) SaveProgress(ctx context.Context, summary *models.ProgressSummary) error {
	return s.db.WithContext(ctx).Save(summary).Error
}

func (s *GormStore) CreateReward(ctx context.Context, reward *models.Reward) error {
	return s.db.WithContext(ctx).Create(reward).Error
}

func (s *GormStore) SaveReward(ctx context.Context, reward *models.Reward) error {
	return s.db.WithContext(ctx).Save(reward).Error
}

func (s *GormStore) GetReward(ctx context.Context, id uint) (*models.Reward, error) {
	var reward models.Reward
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reward, nil
}

func (s *GormStore) EarnedUnredeemedRewards(ctx context.Context) ([]models.Reward, error) {
	var rewards []models.Reward
	err := s.db.WithContext(ctx).
		Where("status = ? AND discount_id <> ''", models.RewardStatusEarned).
		Find(&rewards).Error
	return rewards, err
}

func (s *GormStore) FindEarnedReward(ctx context.Context, merchantId string, offerId uint, customerId string) (*models.Reward, error) {
	var reward models.Reward
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND offer_id = ? AND customer_id = ? AND status = ?",
			merchantId, offerId, customerId, models.RewardStatusEarned).
		Take(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reward, nil
}

// FindRewardByPOSObject looks a reward up by its issued discount or pricing
// rule id. This is how a redeemed line item is recognized on a later order.
func (s *GormStore) FindRewardByPOSObject(ctx context.Context, merchantId string, objectId string) (*models.Reward, error) {
	if objectId == "" {
		return nil, nil
	}
	var reward models.Reward
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND (discount_id = ? OR pricing_rule_id = ?)", merchantId, objectId, objectId).
		Take(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reward, nil
}

func (s *GormStore) MaxUnitPrice(ctx context.Context, merchantId string, offerId uint, customerId string) (decimal.Decimal, error) {
	var price decimal.NullDecimal
	err := s.db.WithContext(ctx).Model(&models.PurchaseEvent{}).
		Select("MAX(unit_price)").
		Where("merchant_id = ? AND offer_id = ? AND customer_id = ?", merchantId, offerId, customerId).
		Scan(&price).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !price.Valid {
		return decimal.Zero, nil
	}
	return price.Decimal, nil
}

func (s *GormStore) CreateRedemption(ctx context.Context, redemption *models.Redemption) error {
	return s.db.WithContext(ctx).Create(redemption).Error
}

func (s *GormStore) RedemptionsByCustomer(ctx context.Context, merchantId string, customerId string) ([]models.Redemption, error) {
	var redemptions []models.Redemption
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND customer_id = ?", merchantId, customerId).
		Find(&redemptions).Error
	return redemptions, err
}

func (s *GormStore) RedemptionByOrder(ctx context.Context, merchantId string, orderId string) (*models.Redemption, error) {
	if orderId == "" {
		return nil, nil
	}
	var redemption models.Redemption
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND order_id = ?", merchantId, orderId).
		Take(&redemption).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &redemption, nil
}

func (s *GormStore) KnownCustomerIds(ctx context.Context, merchantId string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.PurchaseEvent{}).
		Distinct("customer_id").
		Where("merchant_id = ?", merchantId).
		Pluck("customer_id", &ids).Error
	return ids, err
}

func (s *GormStore) CreateBackfillRun(ctx context.Context, run *models.BackfillRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *GormStore) SaveBackfillRun(ctx context.Context, run *models.BackfillRun) error {
	return s.db.WithContext(ctx).Save(run).Error
}

func (s *GormStore) CreateBackfillError(ctx context.Context, e *models.BackfillError) error {
	return s.db.WithContext(ctx).Create(e).Error
}

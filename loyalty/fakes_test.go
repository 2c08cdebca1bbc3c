package loyalty

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
	"bitbucket.org/mmdatafocus/loyalty_backend/possync"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func mustTime(t *testing.T, raw string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testMerchant() *models.Merchant {
	enabled := true
	return &models.Merchant{
		ID:             1,
		MerchantId:     "M1",
		AccessToken:    "token",
		LoyaltyEnabled: &enabled,
		CountryCode:    "US",
	}
}

func testOffer(required int) models.Offer {
	active := true
	return models.Offer{
		ID:               7,
		MerchantId:       "M1",
		BrandTag:         "ACME",
		SizeGroup:        "12oz",
		RequiredQuantity: required,
		WindowMonths:     6,
		Active:           &active,
		Variations: []*models.OfferVariation{
			{ID: 1, OfferId: 7, MerchantId: "M1", VariationId: "VAR1", Price: decimal.NewFromFloat(4.50)},
			{ID: 2, OfferId: 7, MerchantId: "M1", VariationId: "VAR2", Price: decimal.NewFromFloat(5.25)},
		},
	}
}

func newTestEngine(store *fakeStore, api *fakeAPI) *Engine {
	return NewEngine(store, api, nil, testLogger(), EngineConfig{})
}

type fakeStore struct {
	mu sync.Mutex

	merchants map[string]*models.Merchant
	offers    []models.Offer

	purchaseEvents []*models.PurchaseEvent
	nextEventId    uint

	progress map[string]*models.ProgressSummary

	rewards      []*models.Reward
	nextRewardId uint

	redemptions []*models.Redemption

	knownCustomers []string

	runs      []*models.BackfillRun
	runErrors []*models.BackfillError
	nextRunId uint

	failCreateEvent   error
	failProcessedScan map[string]error
}

func newFakeStore(merchant *models.Merchant, offers ...models.Offer) *fakeStore {
	return &fakeStore{
		merchants: map[string]*models.Merchant{merchant.MerchantId: merchant},
		offers:    offers,
		progress:  map[string]*models.ProgressSummary{},
	}
}

func progressKey(merchantId string, offerId uint, customerId string) string {
	return fmt.Sprintf("%s|%d|%s", merchantId, offerId, customerId)
}

func (s *fakeStore) GetMerchant(ctx context.Context, merchantId string) (*models.Merchant, error) {
	return s.merchants[merchantId], nil
}

func (s *fakeStore) OrderProcessed(ctx context.Context, merchantId string, orderId string) (bool, error) {
	if err := s.failProcessedScan[orderId]; err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.purchaseEvents {
		if ev.MerchantId == merchantId && ev.OrderId == orderId {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) CreatePurchaseEvent(ctx context.Context, ev *models.PurchaseEvent) error {
	if s.failCreateEvent != nil {
		return s.failCreateEvent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.purchaseEvents {
		if existing.MerchantId == ev.MerchantId && existing.OrderId == ev.OrderId && existing.VariationId == ev.VariationId {
			return ErrDuplicatePurchaseEvent
		}
	}
	s.nextEventId++
	ev.ID = s.nextEventId
	s.purchaseEvents = append(s.purchaseEvents, ev)
	return nil
}

func (s *fakeStore) PurchaseEventsByOrder(ctx context.Context, merchantId string, orderId string) ([]models.PurchaseEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PurchaseEvent
	for _, ev := range s.purchaseEvents {
		if ev.MerchantId == merchantId && ev.OrderId == orderId {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (s *fakeStore) SavePurchaseEvent(ctx context.Context, ev *models.PurchaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.purchaseEvents {
		if existing.ID == ev.ID {
			saved := *ev
			s.purchaseEvents[i] = &saved
			return nil
		}
	}
	return nil
}

func (s *fakeStore) ActiveOffers(ctx context.Context, merchantId string) ([]models.Offer, error) {
	var out []models.Offer
	for _, offer := range s.offers {
		if offer.MerchantId == merchantId && (offer.Active == nil || *offer.Active) {
			out = append(out, offer)
		}
	}
	return out, nil
}

func (s *fakeStore) GetOffer(ctx context.Context, merchantId string, offerId uint) (*models.Offer, error) {
	for i := range s.offers {
		if s.offers[i].MerchantId == merchantId && s.offers[i].ID == offerId {
			return &s.offers[i], nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetProgress(ctx context.Context, merchantId string, offerId uint, customerId string) (*models.ProgressSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[progressKey(merchantId, offerId, customerId)], nil
}

func (s *fakeStore) SaveProgress(ctx context.Context, summary *models.ProgressSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[progressKey(summary.MerchantId, summary.OfferId, summary.CustomerId)] = summary
	return nil
}

func (s *fakeStore) CreateReward(ctx context.Context, reward *models.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRewardId++
	reward.ID = s.nextRewardId
	s.rewards = append(s.rewards, reward)
	return nil
}

func (s *fakeStore) SaveReward(ctx context.Context, reward *models.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.rewards {
		if existing.ID == reward.ID {
			s.rewards[i] = reward
			return nil
		}
	}
	s.rewards = append(s.rewards, reward)
	return nil
}

func (s *fakeStore) GetReward(ctx context.Context, id uint) (*models.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reward := range s.rewards {
		if reward.ID == id {
			return reward, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) EarnedUnredeemedRewards(ctx context.Context) ([]models.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reward
	for _, reward := range s.rewards {
		if reward.Status == models.RewardStatusEarned && reward.DiscountId != "" {
			out = append(out, *reward)
		}
	}
	return out, nil
}

func (s *fakeStore) FindEarnedReward(ctx context.Context, merchantId string, offerId uint, customerId string) (*models.Reward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reward := range s.rewards {
		if reward.MerchantId == merchantId && reward.OfferId == offerId && reward.CustomerId == customerId && reward.Status == models.RewardStatusEarned {
			return reward, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindRewardByPOSObject(ctx context.Context, merchantId string, objectId string) (*models.Reward, error) {
	if objectId == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reward := range s.rewards {
		if reward.MerchantId == merchantId && (reward.DiscountId == objectId || reward.PricingRuleId == objectId) {
			return reward, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) MaxUnitPrice(ctx context.Context, merchantId string, offerId uint, customerId string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := decimal.Zero
	for _, ev := range s.purchaseEvents {
		if ev.MerchantId == merchantId && ev.OfferId == offerId && ev.CustomerId == customerId && ev.UnitPrice.GreaterThan(max) {
			max = ev.UnitPrice
		}
	}
	return max, nil
}

func (s *fakeStore) CreateRedemption(ctx context.Context, redemption *models.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	redemption.ID = uint(len(s.redemptions) + 1)
	s.redemptions = append(s.redemptions, redemption)
	return nil
}

func (s *fakeStore) RedemptionsByCustomer(ctx context.Context, merchantId string, customerId string) ([]models.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Redemption
	for _, redemption := range s.redemptions {
		if redemption.MerchantId == merchantId && redemption.CustomerId == customerId {
			out = append(out, *redemption)
		}
	}
	return out, nil
}

func (s *fakeStore) RedemptionByOrder(ctx context.Context, merchantId string, orderId string) (*models.Redemption, error) {
	if orderId == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, redemption := range s.redemptions {
		if redemption.MerchantId == merchantId && redemption.OrderId == orderId {
			return redemption, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) KnownCustomerIds(ctx context.Context, merchantId string) ([]string, error) {
	return s.knownCustomers, nil
}

func (s *fakeStore) CreateBackfillRun(ctx context.Context, run *models.BackfillRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunId++
	run.ID = s.nextRunId
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeStore) SaveBackfillRun(ctx context.Context, run *models.BackfillRun) error {
	return nil
}

func (s *fakeStore) CreateBackfillError(ctx context.Context, e *models.BackfillError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runErrors = append(s.runErrors, e)
	return nil
}

var _ Store = (*fakeStore)(nil)

// fakeAPI is an in-memory platform. Failure injection is per-endpoint.
type fakeAPI struct {
	mu sync.Mutex

	orders           map[string]*possync.Order
	ordersByPage     [][]possync.Order
	loyaltyEvents    map[string][]possync.LoyaltyEvent
	accounts         map[string]*possync.LoyaltyAccount
	customers        map[string]*possync.Customer
	customersByPhone map[string][]possync.Customer
	customersByEmail map[string][]possync.Customer
	catalogObjects   map[string]*possync.CatalogObject

	groups         map[string]string
	groupMembers   map[string]map[string]bool
	nextId         int
	deletedGroups  []string
	deletedCatalog []string

	failAddMember      error
	failBatchUpsert    error
	failCreateGroup    error
	failSearchOrders   error
	upsertCalls        int
	searchOrderCalls   int
	orderEventSearches int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		orders:           map[string]*possync.Order{},
		loyaltyEvents:    map[string][]possync.LoyaltyEvent{},
		accounts:         map[string]*possync.LoyaltyAccount{},
		customers:        map[string]*possync.Customer{},
		customersByPhone: map[string][]possync.Customer{},
		customersByEmail: map[string][]possync.Customer{},
		catalogObjects:   map[string]*possync.CatalogObject{},
		groups:           map[string]string{},
		groupMembers:     map[string]map[string]bool{},
	}
}

func (a *fakeAPI) SearchOrders(ctx context.Context, merchant *models.Merchant, query possync.OrderQuery) ([]possync.Order, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failSearchOrders != nil {
		return nil, "", a.failSearchOrders
	}
	page := 0
	if query.Cursor != "" {
		fmt.Sscanf(query.Cursor, "page-%d", &page)
	}
	if page >= len(a.ordersByPage) {
		return nil, "", nil
	}
	a.searchOrderCalls++
	orders := a.ordersByPage[page]
	if len(query.CustomerIds) > 0 {
		var filtered []possync.Order
		for _, order := range orders {
			for _, id := range query.CustomerIds {
				if order.CustomerId == id || a.orderBelongsTo(order.ID, id) {
					filtered = append(filtered, order)
					break
				}
			}
		}
		orders = filtered
	}
	cursor := ""
	if page+1 < len(a.ordersByPage) {
		cursor = fmt.Sprintf("page-%d", page+1)
	}
	return orders, cursor, nil
}

// orderBelongsTo lets search-by-customer match orders whose document omits
// the customer id, mirroring the platform's tender-based matching.
func (a *fakeAPI) orderBelongsTo(orderId string, customerId string) bool {
	for _, events := range a.loyaltyEvents {
		for _, event := range events {
			if event.OrderId != orderId {
				continue
			}
			account := a.accounts[event.LoyaltyAccountId]
			if account != nil && account.CustomerId == customerId {
				return true
			}
		}
	}
	return false
}

func (a *fakeAPI) GetOrder(ctx context.Context, merchant *models.Merchant, orderId string) (*possync.Order, error) {
	order := a.orders[orderId]
	if order == nil {
		return nil, &possync.APIError{Status: 404, Endpoint: "/v2/orders/" + orderId}
	}
	return order, nil
}

func (a *fakeAPI) SearchLoyaltyEvents(ctx context.Context, merchant *models.Merchant, query possync.LoyaltyEventQuery) ([]possync.LoyaltyEvent, string, error) {
	if query.OrderId != "" {
		a.orderEventSearches++
		return a.loyaltyEvents[query.OrderId], "", nil
	}
	var all []possync.LoyaltyEvent
	for _, events := range a.loyaltyEvents {
		all = append(all, events...)
	}
	return all, "", nil
}

func (a *fakeAPI) GetLoyaltyAccount(ctx context.Context, merchant *models.Merchant, accountId string) (*possync.LoyaltyAccount, error) {
	account := a.accounts[accountId]
	if account == nil {
		return nil, &possync.APIError{Status: 404, Endpoint: "/v2/loyalty/accounts/" + accountId}
	}
	return account, nil
}

func (a *fakeAPI) SearchCustomers(ctx context.Context, merchant *models.Merchant, filter possync.CustomerFilter) ([]possync.Customer, error) {
	if filter.PhoneNumber != "" {
		return a.customersByPhone[filter.PhoneNumber], nil
	}
	if filter.EmailAddress != "" {
		return a.customersByEmail[strings.ToLower(filter.EmailAddress)], nil
	}
	return nil, nil
}

func (a *fakeAPI) GetCustomer(ctx context.Context, merchant *models.Merchant, customerId string) (*possync.Customer, error) {
	customer := a.customers[customerId]
	if customer == nil {
		return nil, &possync.APIError{Status: 404, Endpoint: "/v2/customers/" + customerId}
	}
	return customer, nil
}

func (a *fakeAPI) UpdateCustomerNote(ctx context.Context, merchant *models.Merchant, customerId string, note string, version int64) error {
	customer := a.customers[customerId]
	if customer == nil {
		return &possync.APIError{Status: 404, Endpoint: "/v2/customers/" + customerId}
	}
	customer.Note = note
	customer.Version++
	return nil
}

func (a *fakeAPI) CreateCustomerGroup(ctx context.Context, merchant *models.Merchant, name string, idempotencyKey string) (string, error) {
	if a.failCreateGroup != nil {
		return "", a.failCreateGroup
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextId++
	groupId := fmt.Sprintf("GRP%d", a.nextId)
	a.groups[groupId] = name
	a.groupMembers[groupId] = map[string]bool{}
	return groupId, nil
}

func (a *fakeAPI) DeleteCustomerGroup(ctx context.Context, merchant *models.Merchant, groupId string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.groups[groupId]; !ok {
		return &possync.APIError{Status: 404, Endpoint: "/v2/customers/groups/" + groupId}
	}
	delete(a.groups, groupId)
	delete(a.groupMembers, groupId)
	a.deletedGroups = append(a.deletedGroups, groupId)
	return nil
}

func (a *fakeAPI) AddGroupMember(ctx context.Context, merchant *models.Merchant, groupId string, customerId string) error {
	if a.failAddMember != nil {
		return a.failAddMember
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	members, ok := a.groupMembers[groupId]
	if !ok {
		return &possync.APIError{Status: 404, Endpoint: "/v2/customers/groups/" + groupId}
	}
	members[customerId] = true
	return nil
}

func (a *fakeAPI) RemoveGroupMember(ctx context.Context, merchant *models.Merchant, groupId string, customerId string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	members, ok := a.groupMembers[groupId]
	if !ok {
		return &possync.APIError{Status: 404, Endpoint: "/v2/customers/groups/" + groupId}
	}
	delete(members, customerId)
	return nil
}

func (a *fakeAPI) BatchUpsertCatalog(ctx context.Context, merchant *models.Merchant, objects []possync.CatalogObject, idempotencyKey string) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upsertCalls++
	if a.failBatchUpsert != nil {
		return nil, a.failBatchUpsert
	}
	ids := map[string]string{}
	for i := range objects {
		object := objects[i]
		id := object.ID
		if strings.HasPrefix(id, "#") {
			a.nextId++
			ids[id] = fmt.Sprintf("CAT%d", a.nextId)
			id = ids[id]
		}
		object.ID = id
		a.catalogObjects[id] = &object
	}
	return ids, nil
}

func (a *fakeAPI) GetCatalogObject(ctx context.Context, merchant *models.Merchant, objectId string) (*possync.CatalogObject, error) {
	object := a.catalogObjects[objectId]
	if object == nil {
		return nil, &possync.APIError{Status: 404, Endpoint: "/v2/catalog/object/" + objectId}
	}
	return object, nil
}

func (a *fakeAPI) BatchDeleteCatalog(ctx context.Context, merchant *models.Merchant, objectIds []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range objectIds {
		delete(a.catalogObjects, id)
		a.deletedCatalog = append(a.deletedCatalog, id)
	}
	return nil
}

var _ possync.API = (*fakeAPI)(nil)

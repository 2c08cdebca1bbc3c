package possync

import (
	"context"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
)

// API is the platform surface the loyalty engine consumes. Client implements
// it; tests substitute fakes. Constructors take the API as a parameter, never
// a lazily-initialized global.
type API interface {
	SearchOrders(ctx context.Context, merchant *models.Merchant, query OrderQuery) ([]Order, string, error)
	GetOrder(ctx context.Context, merchant *models.Merchant, orderId string) (*Order, error)

	SearchLoyaltyEvents(ctx context.Context, merchant *models.Merchant, query LoyaltyEventQuery) ([]LoyaltyEvent, string, error)
	GetLoyaltyAccount(ctx context.Context, merchant *models.Merchant, accountId string) (*LoyaltyAccount, error)

	SearchCustomers(ctx context.Context, merchant *models.Merchant, filter CustomerFilter) ([]Customer, error)
	GetCustomer(ctx context.Context, merchant *models.Merchant, customerId string) (*Customer, error)
	UpdateCustomerNote(ctx context.Context, merchant *models.Merchant, customerId string, note string, version int64) error

	CreateCustomerGroup(ctx context.Context, merchant *models.Merchant, name string, idempotencyKey string) (string, error)
	DeleteCustomerGroup(ctx context.Context, merchant *models.Merchant, groupId string) error
	AddGroupMember(ctx context.Context, merchant *models.Merchant, groupId string, customerId string) error
	RemoveGroupMember(ctx context.Context, merchant *models.Merchant, groupId string, customerId string) error

	BatchUpsertCatalog(ctx context.Context, merchant *models.Merchant, objects []CatalogObject, idempotencyKey string) (map[string]string, error)
	GetCatalogObject(ctx context.Context, merchant *models.Merchant, objectId string) (*CatalogObject, error)
	BatchDeleteCatalog(ctx context.Context, merchant *models.Merchant, objectIds []string) error
}

var _ API = (*Client)(nil)

package possync

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money is the platform's integer-cents representation.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Decimal converts cents to a decimal amount.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -2)
}

func MoneyFromDecimal(d decimal.Decimal, currency string) Money {
	return Money{Amount: d.Shift(2).IntPart(), Currency: currency}
}

type Order struct {
	ID           string             `json:"id"`
	LocationId   string             `json:"location_id"`
	State        string             `json:"state"`
	CustomerId   string             `json:"customer_id"`
	CreatedAt    string             `json:"created_at"`
	ClosedAt     string             `json:"closed_at"`
	LineItems    []OrderLineItem    `json:"line_items"`
	Tenders      []OrderTender      `json:"tenders"`
	Fulfillments []OrderFulfillment `json:"fulfillments"`
	Discounts    []OrderDiscount    `json:"discounts"`
	Returns      []OrderReturn      `json:"returns"`
	TotalMoney   Money              `json:"total_money"`
}

type OrderLineItem struct {
	UID              string            `json:"uid"`
	Name             string            `json:"name"`
	CatalogObjectId  string            `json:"catalog_object_id"`
	Quantity         json.Number       `json:"quantity"`
	BasePriceMoney   Money             `json:"base_price_money"`
	GrossSalesMoney  Money             `json:"gross_sales_money"`
	TotalMoney       Money             `json:"total_money"`
	AppliedDiscounts []AppliedDiscount `json:"applied_discounts"`
}

type AppliedDiscount struct {
	UID         string `json:"uid"`
	DiscountUID string `json:"discount_uid"`
}

// OrderDiscount is an order-level discount definition; line items reference
// it through AppliedDiscounts by UID. CatalogObjectId is set when the
// discount came from a catalog pricing rule, which is how the engine
// recognizes its own previously-issued reward discounts.
type OrderDiscount struct {
	UID             string `json:"uid"`
	Name            string `json:"name"`
	CatalogObjectId string `json:"catalog_object_id"`
	PricingRuleId   string `json:"pricing_rule_id"`
	Percentage      string `json:"percentage"`
	AppliedMoney    Money  `json:"applied_money"`
}

type OrderTender struct {
	ID         string `json:"id"`
	CustomerId string `json:"customer_id"`
	Type       string `json:"type"`
}

type OrderFulfillment struct {
	UID       string                `json:"uid"`
	Type      string                `json:"type"`
	Recipient *FulfillmentRecipient `json:"recipient"`
}

type FulfillmentRecipient struct {
	CustomerId   string `json:"customer_id"`
	DisplayName  string `json:"display_name"`
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
}

type OrderReturn struct {
	UID             string                `json:"uid"`
	SourceOrderId   string                `json:"source_order_id"`
	ReturnLineItems []OrderReturnLineItem `json:"return_line_items"`
}

type OrderReturnLineItem struct {
	UID             string      `json:"uid"`
	CatalogObjectId string      `json:"catalog_object_id"`
	Quantity        json.Number `json:"quantity"`
	GrossSalesMoney Money       `json:"gross_sales_money"`
	TotalMoney      Money       `json:"total_money"`
}

// OrderQuery narrows an order search. Zero values mean "no filter".
type OrderQuery struct {
	LocationIds []string
	CustomerIds []string
	States      []string
	StartAt     string
	EndAt       string
	Cursor      string
	Limit       int
}

type LoyaltyEvent struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	CreatedAt        string `json:"created_at"`
	LoyaltyAccountId string `json:"loyalty_account_id"`
	OrderId          string `json:"order_id"`
	LocationId       string `json:"location_id"`
}

const (
	LoyaltyEventTypeAccumulate   = "ACCUMULATE_POINTS"
	LoyaltyEventTypeRedeemReward = "REDEEM_REWARD"
)

// LoyaltyEventQuery filters the platform's loyalty-event search. OrderId and
// the type+date pair are mutually exclusive filter modes.
type LoyaltyEventQuery struct {
	OrderId string
	Types   []string
	StartAt string
	EndAt   string
	Cursor  string
	Limit   int
}

type LoyaltyAccount struct {
	ID         string `json:"id"`
	CustomerId string `json:"customer_id"`
	ProgramId  string `json:"program_id"`
}

type Customer struct {
	ID           string `json:"id"`
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
	Note         string `json:"note"`
	Version      int64  `json:"version"`
}

// CustomerFilter is an exact-match directory search; set exactly one field.
type CustomerFilter struct {
	PhoneNumber  string
	EmailAddress string
}

type CustomerGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CatalogObject is the platform's polymorphic catalog node. Only the three
// shapes the reward saga provisions are modeled.
type CatalogObject struct {
	Type          string                `json:"type"`
	ID            string                `json:"id"`
	Version       int64                 `json:"version,omitempty"`
	DiscountData  *CatalogDiscount      `json:"discount_data,omitempty"`
	ProductSet    *CatalogProductSet    `json:"product_set_data,omitempty"`
	PricingRule   *CatalogPricingRule   `json:"pricing_rule_data,omitempty"`
	ItemVariation *CatalogItemVariation `json:"item_variation_data,omitempty"`
}

const (
	CatalogTypeDiscount      = "DISCOUNT"
	CatalogTypeProductSet    = "PRODUCT_SET"
	CatalogTypePricingRule   = "PRICING_RULE"
	CatalogTypeItemVariation = "ITEM_VARIATION"
)

type CatalogDiscount struct {
	Name          string `json:"name"`
	DiscountType  string `json:"discount_type"`
	Percentage    string `json:"percentage,omitempty"`
	MaximumAmount *Money `json:"maximum_amount_money,omitempty"`
}

type CatalogProductSet struct {
	Name          string   `json:"name"`
	ProductIds    []string `json:"product_ids_any"`
	QuantityExact int      `json:"quantity_exact"`
}

type CatalogPricingRule struct {
	Name             string   `json:"name"`
	DiscountId       string   `json:"discount_id"`
	MatchProductsId  string   `json:"match_products_id"`
	CustomerGroupIds []string `json:"customer_group_ids_any"`
}

type CatalogItemVariation struct {
	Name       string `json:"name"`
	ItemId     string `json:"item_id"`
	PriceMoney *Money `json:"price_money,omitempty"`
}

// IdMapping links a client-side temp id ("#discount") to the server-assigned
// object id after a batch upsert.
type IdMapping struct {
	ClientObjectId string `json:"client_object_id"`
	ObjectId       string `json:"object_id"`
}

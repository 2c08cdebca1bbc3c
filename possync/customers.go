package possync

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
)

type customerSearchRequest struct {
	Query customerSearchQuery `json:"query"`
	Limit int                 `json:"limit,omitempty"`
}

type customerSearchQuery struct {
	Filter customerSearchFilter `json:"filter"`
}

type customerSearchFilter struct {
	PhoneNumber  *exactFilter `json:"phone_number,omitempty"`
	EmailAddress *exactFilter `json:"email_address,omitempty"`
}

type exactFilter struct {
	Exact string `json:"exact"`
}

type customerSearchResponse struct {
	Customers []Customer `json:"customers"`
}

func (c *Client) SearchCustomers(ctx context.Context, merchant *models.Merchant, filter CustomerFilter) ([]Customer, error) {
	var req customerSearchRequest
	if filter.PhoneNumber != "" {
		req.Query.Filter.PhoneNumber = &exactFilter{Exact: filter.PhoneNumber}
	}
	if filter.EmailAddress != "" {
		req.Query.Filter.EmailAddress = &exactFilter{Exact: filter.EmailAddress}
	}

	var resp customerSearchResponse
	if err := c.do(ctx, merchant, http.MethodPost, "/v2/customers/search", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Customers, nil
}

type customerResponse struct {
	Customer Customer `json:"customer"`
}

func (c *Client) GetCustomer(ctx context.Context, merchant *models.Merchant, customerId string) (*Customer, error) {
	var resp customerResponse
	if err := c.do(ctx, merchant, http.MethodGet, "/v2/customers/"+customerId, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Customer, nil
}

type customerNoteUpdate struct {
	Note    string `json:"note"`
	Version int64  `json:"version"`
}

// UpdateCustomerNote writes the customer's note field with optimistic
// concurrency; the platform rejects stale versions.
func (c *Client) UpdateCustomerNote(ctx context.Context, merchant *models.Merchant, customerId string, note string, version int64) error {
	return c.do(ctx, merchant, http.MethodPut, "/v2/customers/"+customerId, nil, customerNoteUpdate{Note: note, Version: version}, nil)
}

package possync

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
)

type orderSearchRequest struct {
	LocationIds []string         `json:"location_ids,omitempty"`
	Cursor      string           `json:"cursor,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Query       orderSearchQuery `json:"query"`
}

type orderSearchQuery struct {
	Filter orderSearchFilter `json:"filter"`
}

type orderSearchFilter struct {
	StateFilter    *stateFilter    `json:"state_filter,omitempty"`
	DateTimeFilter *dateTimeFilter `json:"date_time_filter,omitempty"`
	CustomerFilter *customerFilter `json:"customer_filter,omitempty"`
}

type stateFilter struct {
	States []string `json:"states"`
}

type dateTimeFilter struct {
	ClosedAt timeRange `json:"closed_at"`
}

type timeRange struct {
	StartAt string `json:"start_at,omitempty"`
	EndAt   string `json:"end_at,omitempty"`
}

type customerFilter struct {
	CustomerIds []string `json:"customer_ids"`
}

type orderSearchResponse struct {
	Orders []Order `json:"orders"`
	Cursor string  `json:"cursor"`
}

// SearchOrders returns one page of matching orders plus the next cursor
// ("" when exhausted).
func (c *Client) SearchOrders(ctx context.Context, merchant *models.Merchant, query OrderQuery) ([]Order, string, error) {
	req := orderSearchRequest{
		LocationIds: query.LocationIds,
		Cursor:      query.Cursor,
		Limit:       query.Limit,
	}
	if len(query.States) > 0 {
		req.Query.Filter.StateFilter = &stateFilter{States: query.States}
	}
	if query.StartAt != "" || query.EndAt != "" {
		req.Query.Filter.DateTimeFilter = &dateTimeFilter{ClosedAt: timeRange{StartAt: query.StartAt, EndAt: query.EndAt}}
	}
	if len(query.CustomerIds) > 0 {
		req.Query.Filter.CustomerFilter = &customerFilter{CustomerIds: query.CustomerIds}
	}

	var resp orderSearchResponse
	if err := c.do(ctx, merchant, http.MethodPost, "/v2/orders/search", nil, req, &resp); err != nil {
		return nil, "", err
	}
	return resp.Orders, resp.Cursor, nil
}

type orderResponse struct {
	Order Order `json:"order"`
}

func (c *Client) GetOrder(ctx context.Context, merchant *models.Merchant, orderId string) (*Order, error) {
	var resp orderResponse
	if err := c.do(ctx, merchant, http.MethodGet, "/v2/orders/"+orderId, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Order, nil
}

package possync

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
)

type loyaltyEventSearchRequest struct {
	Query  loyaltyEventSearchQuery `json:"query"`
	Cursor string                  `json:"cursor,omitempty"`
	Limit  int                     `json:"limit,omitempty"`
}

type loyaltyEventSearchQuery struct {
	Filter loyaltyEventFilter `json:"filter"`
}

type loyaltyEventFilter struct {
	OrderFilter    *loyaltyOrderFilter `json:"order_filter,omitempty"`
	TypeFilter     *loyaltyTypeFilter  `json:"type_filter,omitempty"`
	DateTimeFilter *dateTimeFilter     `json:"date_time_filter,omitempty"`
}

type loyaltyOrderFilter struct {
	OrderId string `json:"order_id"`
}

type loyaltyTypeFilter struct {
	Types []string `json:"types"`
}

type loyaltyEventSearchResponse struct {
	Events []LoyaltyEvent `json:"events"`
	Cursor string         `json:"cursor"`
}

func (c *Client) SearchLoyaltyEvents(ctx context.Context, merchant *models.Merchant, query LoyaltyEventQuery) ([]LoyaltyEvent, string, error) {
	req := loyaltyEventSearchRequest{Cursor: query.Cursor, Limit: query.Limit}
	if query.OrderId != "" {
		req.Query.Filter.OrderFilter = &loyaltyOrderFilter{OrderId: query.OrderId}
	}
	if len(query.Types) > 0 {
		req.Query.Filter.TypeFilter = &loyaltyTypeFilter{Types: query.Types}
	}
	if query.StartAt != "" || query.EndAt != "" {
		req.Query.Filter.DateTimeFilter = &dateTimeFilter{ClosedAt: timeRange{StartAt: query.StartAt, EndAt: query.EndAt}}
	}

	var resp loyaltyEventSearchResponse
	if err := c.do(ctx, merchant, http.MethodPost, "/v2/loyalty/events/search", nil, req, &resp); err != nil {
		return nil, "", err
	}
	return resp.Events, resp.Cursor, nil
}

type loyaltyAccountResponse struct {
	LoyaltyAccount LoyaltyAccount `json:"loyalty_account"`
}

func (c *Client) GetLoyaltyAccount(ctx context.Context, merchant *models.Merchant, accountId string) (*LoyaltyAccount, error) {
	var resp loyaltyAccountResponse
	if err := c.do(ctx, merchant, http.MethodGet, "/v2/loyalty/accounts/"+accountId, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.LoyaltyAccount, nil
}

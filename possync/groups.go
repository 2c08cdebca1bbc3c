package possync

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
)

type groupCreateRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	Group          CustomerGroup `json:"group"`
}

type groupResponse struct {
	Group CustomerGroup `json:"group"`
}

func (c *Client) CreateCustomerGroup(ctx context.Context, merchant *models.Merchant, name string, idempotencyKey string) (string, error) {
	req := groupCreateRequest{IdempotencyKey: idempotencyKey, Group: CustomerGroup{Name: name}}
	var resp groupResponse
	if err := c.do(ctx, merchant, http.MethodPost, "/v2/customers/groups", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Group.ID, nil
}

func (c *Client) DeleteCustomerGroup(ctx context.Context, merchant *models.Merchant, groupId string) error {
	return c.do(ctx, merchant, http.MethodDelete, "/v2/customers/groups/"+groupId, nil, nil, nil)
}

func (c *Client) AddGroupMember(ctx context.Context, merchant *models.Merchant, groupId string, customerId string) error {
	return c.do(ctx, merchant, http.MethodPut, "/v2/customers/"+customerId+"/groups/"+groupId, nil, nil, nil)
}

func (c *Client) RemoveGroupMember(ctx context.Context, merchant *models.Merchant, groupId string, customerId string) error {
	return c.do(ctx, merchant, http.MethodDelete, "/v2/customers/"+customerId+"/groups/"+groupId, nil, nil, nil)
}

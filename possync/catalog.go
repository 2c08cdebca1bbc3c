package possync

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/loyalty_backend/models"
)

type catalogBatchUpsertRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Batches        []catalogBatch `json:"batches"`
}

type catalogBatch struct {
	Objects []CatalogObject `json:"objects"`
}

type catalogBatchUpsertResponse struct {
	Objects    []CatalogObject `json:"objects"`
	IdMappings []IdMapping     `json:"id_mappings"`
}

// BatchUpsertCatalog writes objects in one atomic batch and returns the
// temp-id to real-id mapping for objects created with "#"-prefixed ids.
func (c *Client) BatchUpsertCatalog(ctx context.Context, merchant *models.Merchant, objects []CatalogObject, idempotencyKey string) (map[string]string, error) {
	req := catalogBatchUpsertRequest{
		IdempotencyKey: idempotencyKey,
		Batches:        []catalogBatch{{Objects: objects}},
	}
	var resp catalogBatchUpsertResponse
	if err := c.do(ctx, merchant, http.MethodPost, "/v2/catalog/batch-upsert", nil, req, &resp); err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(resp.IdMappings))
	for _, m := range resp.IdMappings {
		ids[m.ClientObjectId] = m.ObjectId
	}
	return ids, nil
}

type catalogObjectResponse struct {
	Object CatalogObject `json:"object"`
}

func (c *Client) GetCatalogObject(ctx context.Context, merchant *models.Merchant, objectId string) (*CatalogObject, error) {
	var resp catalogObjectResponse
	if err := c.do(ctx, merchant, http.MethodGet, "/v2/catalog/object/"+objectId, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Object, nil
}

type catalogBatchDeleteRequest struct {
	ObjectIds []string `json:"object_ids"`
}

func (c *Client) BatchDeleteCatalog(ctx context.Context, merchant *models.Merchant, objectIds []string) error {
	return c.do(ctx, merchant, http.MethodPost, "/v2/catalog/batch-delete", nil, catalogBatchDeleteRequest{ObjectIds: objectIds}, nil)
}

package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/loyalty_backend/appctx"
)

var (
	ContextKeyMerchantId    = appctx.ContextKeyMerchantId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyActor         = appctx.ContextKeyActor
)

func GetMerchantIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyMerchantId)
}

func SetMerchantIdInContext(ctx context.Context, merchantId string) context.Context {
	return appctx.Set(ctx, ContextKeyMerchantId, merchantId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetActorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActor)
}

func SetActorInContext(ctx context.Context, actor string) context.Context {
	return appctx.Set(ctx, ContextKeyActor, actor)
}

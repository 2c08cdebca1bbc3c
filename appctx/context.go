package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyMerchantId    = ContextKey("MerchantId")
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// ContextKeyActor names the operator or system process behind a write.
	// Recorded on audit log entries.
	ContextKeyActor = ContextKey("Actor")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

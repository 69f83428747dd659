package requestctx

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithIdentity stores the authenticated identity key.
func WithIdentity(ctx context.Context, identity string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// Identity returns the authenticated identity key, or "" when anonymous.
func Identity(ctx context.Context) string {
	return stringValue(ctx, identityKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

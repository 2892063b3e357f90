package audit

import "context"

type contextKey int

const (
	clientIPKey contextKey = iota
	requestIDKey
)

// WithRequestInfo stores the caller address and request id so security events
// logged deeper in the stack can be correlated with the access log.
func WithRequestInfo(ctx context.Context, clientIP, requestID string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ClientIPFromContext returns the caller address, or "" when unknown.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// RequestIDFromContext returns the request id, or "" when unknown.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

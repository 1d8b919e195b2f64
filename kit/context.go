package kit

import "context"

// ctxKey is unexported so only this package can set the values below.
type ctxKey uint8

const (
	transportKey ctxKey = iota
	requestIDKey
	traceIDKey
	remoteAddrKey
)

func with(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

func get(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// WithTransport records how the call arrived: "http" or "mcp".
func WithTransport(ctx context.Context, t string) context.Context { return with(ctx, transportKey, t) }

// GetTransport defaults to "http" when nothing was recorded.
func GetTransport(ctx context.Context) string {
	if t := get(ctx, transportKey); t != "" {
		return t
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context { return with(ctx, requestIDKey, id) }
func GetRequestID(ctx context.Context) string                      { return get(ctx, requestIDKey) }

func WithTraceID(ctx context.Context, id string) context.Context { return with(ctx, traceIDKey, id) }
func GetTraceID(ctx context.Context) string                      { return get(ctx, traceIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return with(ctx, remoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string { return get(ctx, remoteAddrKey) }

package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/atapdf/idgen"
	"github.com/hazyhaar/atapdf/kit"
)

var newTraceID = idgen.NanoID(8)

// TraceID tags the request with a short trace ID (X-Trace-ID header and
// kit context) and attaches a logger carrying it, the request ID when one
// is already set, the method, the path and the client IP.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := newTraceID()
		ip := ClientIP(r)
		w.Header().Set("X-Trace-ID", id)

		attrs := []any{"trace_id", id, "method", r.Method, "path", r.URL.Path, "ip", ip}
		if reqID := kit.GetRequestID(r.Context()); reqID != "" {
			attrs = append(attrs, "request_id", reqID)
		}
		logger := slog.Default().With(attrs...)
		logger.Debug("request")

		ctx := kit.WithRemoteAddr(kit.WithTraceID(r.Context(), id), ip)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, LoggerKey, logger)))
	})
}

// GetLogger returns the request's logger, or slog.Default outside TraceID.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

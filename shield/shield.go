// Package shield provides the HTTP middleware stack of the API: security
// headers, CORS, upload body caps, request tracing and per-client rate
// limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.StackConfig{MaxBody: 110 << 20}) {
//		r.Use(mw)
//	}
package shield

import (
	"net/http"
	"time"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// StackConfig configures APIStack.
type StackConfig struct {
	// MaxBody caps multipart request bodies (default: 100 MiB).
	MaxBody int64
	// AllowedOrigins lists CORS origins; "*" allows any (default: none).
	AllowedOrigins []string
	// RateLimit is requests per Window per client on operation routes; 0 disables.
	RateLimit int
	Window    time.Duration
	// Done stops the rate limiter's bucket collection when closed.
	Done <-chan struct{}
}

// APIStack returns the middleware stack, outermost first:
// TraceID → SecurityHeaders → CORS → MaxUploadBody → RateLimiter.
func APIStack(cfg StackConfig) []func(http.Handler) http.Handler {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 100 << 20
	}
	stack := []func(http.Handler) http.Handler{
		TraceID,
		SecurityHeaders(DefaultHeaders()),
		CORS(cfg.AllowedOrigins),
		MaxUploadBody(cfg.MaxBody),
	}
	if cfg.RateLimit > 0 {
		rl := NewRateLimiter(cfg.RateLimit, cfg.Window, "/api/health", "/download/")
		if cfg.Done != nil {
			go rl.Run(cfg.Done)
		}
		stack = append(stack, rl.Middleware)
	}
	return stack
}

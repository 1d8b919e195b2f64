// CLAUDE:SUMMARY HTTP API: chi routes for every operation, artifact downloads, health and the operations journal, served behind a connection cap.
// CLAUDE:DEPENDS pipeline, lifecycle, ops, observability, shield, kit, idgen, horosafe
// CLAUDE:EXPORTS Server, New, Options, Config, DefaultConfig, LoadConfig
//
// Package server exposes the dispatcher over HTTP:
//
//	POST /api/merge              multipart "files", 2..max_files PDFs
//	POST /api/{kind}             multipart "file" plus the kind's fields
//	GET  /download/{filename}    artifact bytes, grace period starts
//	GET  /api/health             live artifact counts
//	GET  /api/operations         journal entries, when a journal is set
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/netutil"

	"github.com/hazyhaar/atapdf/idgen"
	"github.com/hazyhaar/atapdf/kit"
	"github.com/hazyhaar/atapdf/lifecycle"
	"github.com/hazyhaar/atapdf/observability"
	"github.com/hazyhaar/atapdf/pipeline"
	"github.com/hazyhaar/atapdf/shield"
)

// Options carries the collaborators of a Server. Dispatcher is required.
type Options struct {
	Dispatcher *pipeline.Dispatcher
	Journal    *observability.Journal // optional
	RequestIDs idgen.Generator        // default: UUIDv7
	Logger     *slog.Logger
}

// Server is the HTTP front of the dispatcher.
type Server struct {
	cfg        *Config
	dispatcher *pipeline.Dispatcher
	store      *lifecycle.Manager
	journal    *observability.Journal
	requestIDs idgen.Generator
	logger     *slog.Logger
	policy     *bluemonday.Policy
	router     chi.Router

	done      chan struct{}
	closeOnce sync.Once
}

// New builds the router. Close releases the rate limiter once the server
// is no longer used.
func New(cfg *Config, opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("server: dispatcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.RequestIDs == nil {
		opts.RequestIDs = idgen.UUIDv7()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: opts.Dispatcher,
		store:      opts.Dispatcher.Lifecycle(),
		journal:    opts.Journal,
		requestIDs: opts.RequestIDs,
		logger:     opts.Logger,
		policy:     bluemonday.StrictPolicy(),
		done:       make(chan struct{}),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestContext)
	for _, mw := range shield.APIStack(shield.StackConfig{
		MaxBody:        s.cfg.MaxBodyBytes(),
		AllowedOrigins: s.cfg.AllowedOrigins,
		RateLimit:      s.cfg.RateLimit.Requests,
		Window:         s.cfg.RateLimit.Window,
		Done:           s.done,
	}) {
		r.Use(mw)
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/operations", s.handleOperations)
	r.Post("/api/merge", s.handleMerge)
	r.Post("/api/{kind}", s.handleOperation)
	r.Get("/download/{filename}", s.handleDownload)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// requestContext tags the request with a request ID and the "http"
// transport. A valid incoming X-Request-ID is kept so callers can
// correlate their own logs.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, err := idgen.Parse(r.Header.Get("X-Request-ID"))
		if err != nil {
			reqID = s.requestIDs()
		}
		ctx := kit.WithRequestID(r.Context(), reqID)
		ctx = kit.WithTransport(ctx, "http")

		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. At most max_conns connections are open at once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("server: listening", "addr", ln.Addr().String(), "max_conns", s.cfg.MaxConns)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errc; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.logger.Info("server: stopped")
	return err
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Close stops background work started by New.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Package hostserver is the HTTP front of a function host: a chi router with
// graceful shutdown whose middleware layer opens a telemetry scope around
// every invocation and guarantees it is flushed before the response ends.
package hostserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

type (
	// Server is the invocation-facing HTTP server.
	Server interface {
		// Run starts the server and returns a shutdown function for
		// graceful termination.
		Run() Shutdown
		// RegisterRoute adds a route. Safe to call after Run.
		RegisterRoute(route Route)
		// ShutdownListener receives the server's termination error, nil
		// on clean shutdown.
		ShutdownListener() chan error
		// ServeHTTP implements http.Handler for in-process testing.
		ServeHTTP(http.ResponseWriter, *http.Request)
	}

	server struct {
		http.Server
		router           *chi.Mux
		shutdownListener chan error
		errorHandler     ErrorHandler
		mu               sync.Mutex
	}

	// Shutdown gracefully stops the server.
	Shutdown func(ctx context.Context) error
	// Middleware wraps an http.Handler.
	Middleware func(handler http.Handler) http.Handler
	// Handler handles a request and may return an error, which is passed
	// to the server's ErrorHandler.
	Handler func(w http.ResponseWriter, req *http.Request) error
	// ErrorHandler turns a handler error into a response.
	ErrorHandler func(ctx context.Context, w http.ResponseWriter, err error)

	// Route is one HTTP route with its handler and middlewares.
	Route struct {
		Path        string
		Method      string
		Handler     Handler
		Middlewares []Middleware
	}
)

// New creates a host server with the given options.
func New(options ...Option) Server {
	settings := defaultSettings
	for _, option := range options {
		settings = option(settings)
	}

	router := chi.NewRouter()

	srv := &server{
		Server: http.Server{
			Addr:              fmt.Sprintf(":%s", settings.port),
			Handler:           Chain(router, settings.globalMiddlewares...),
			ReadTimeout:       settings.readTimeout,
			WriteTimeout:      settings.writeTimeout,
			IdleTimeout:       settings.idleTimeout,
			ReadHeaderTimeout: settings.readHeaderTimeout,
			MaxHeaderBytes:    settings.maxHeaderBytes,
		},
		router:           router,
		shutdownListener: make(chan error, 1),
		errorHandler:     settings.errorHandler,
	}

	for _, route := range settings.routes {
		srv.registerRoute(route)
	}
	return srv
}

func (s *server) ShutdownListener() chan error {
	return s.shutdownListener
}

// Run starts listening in a goroutine and returns the shutdown function.
func (s *server) Run() Shutdown {
	go func() {
		err := s.Server.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			s.shutdownListener <- nil
			return
		}
		s.shutdownListener <- err
	}()
	return s.Server.Shutdown
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.Server.Handler.ServeHTTP(w, req)
}

// NewRoute creates a Route.
func NewRoute(method, path string, handler Handler, middlewares ...Middleware) Route {
	return Route{
		Path:        path,
		Method:      method,
		Handler:     handler,
		Middlewares: middlewares,
	}
}

// Chain wraps a handler with the given middlewares, first middleware
// outermost.
func Chain(main http.Handler, middlewares ...Middleware) http.Handler {
	handler := main
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// RegisterRoute adds a route. Thread-safe, usable after Run.
func (s *server) RegisterRoute(route Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerRoute(route)
}

func (s *server) registerRoute(route Route) {
	s.router.Method(
		route.Method,
		route.Path,
		Chain(
			wrapErrors(s.errorHandler, route.Handler),
			route.Middlewares...,
		),
	)
}

// defaultHandleError answers 500 and, when the request carries a telemetry
// scope, records the failure on its logger; otherwise the error is dropped,
// the scope's final flush is the only durable channel this package trusts.
func defaultHandleError(ctx context.Context, w http.ResponseWriter, err error) {
	if tctx := FromContext(ctx); tctx != nil {
		tctx.Log().Error("handler failed", err)
	}
	w.WriteHeader(http.StatusInternalServerError)
}

// ShutdownTimeout returns a context bounded by the default shutdown timeout,
// for passing to the Shutdown function.
func ShutdownTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultShutdownTimeout)
}

// wrapErrors adapts a Handler to http.Handler. It is also where the success
// contract is driven: a handler that returns nil without hitting its
// deadline completed cleanly, so the telemetry scope's success callbacks run
// here, before the surrounding middleware flushes.
func wrapErrors(errorHandler ErrorHandler, handler Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := handler(w, req); err != nil {
			errorHandler(req.Context(), w, err)
			return
		}
		if tctx := FromContext(req.Context()); tctx != nil && !tctx.TimedOut() {
			tctx.Succeed()
		}
	})
}

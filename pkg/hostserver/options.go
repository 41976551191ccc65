package hostserver

import "time"

const (
	defaultHTTPPort        = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 90 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultReadHeaderTime  = 5 * time.Second
	defaultMaxHeaderBytes  = 1 << 20
	defaultShutdownTimeout = 30 * time.Second
)

// The write timeout defaults well above the invocation default so slow
// functions are cut off by the telemetry deadline, not by the socket.
var defaultSettings = settings{
	port:              defaultHTTPPort,
	readTimeout:       defaultReadTimeout,
	writeTimeout:      defaultWriteTimeout,
	idleTimeout:       defaultIdleTimeout,
	readHeaderTimeout: defaultReadHeaderTime,
	maxHeaderBytes:    defaultMaxHeaderBytes,
	shutdownTimeout:   defaultShutdownTimeout,
	errorHandler:      defaultHandleError,
}

type (
	Option   func(s settings) settings
	settings struct {
		port              string
		readTimeout       time.Duration
		writeTimeout      time.Duration
		idleTimeout       time.Duration
		readHeaderTimeout time.Duration
		maxHeaderBytes    int
		shutdownTimeout   time.Duration
		routes            []Route
		globalMiddlewares []Middleware
		errorHandler      ErrorHandler
	}
)

// WithPort sets the listen port. Default "8080".
func WithPort(port string) Option {
	return func(s settings) settings {
		s.port = port
		return s
	}
}

// WithReadTimeout sets the maximum duration for reading the entire request.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s settings) settings {
		s.readTimeout = timeout
		return s
	}
}

// WithWriteTimeout sets the maximum duration before timing out response
// writes.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s settings) settings {
		s.writeTimeout = timeout
		return s
	}
}

// WithIdleTimeout sets the keep-alive idle timeout.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s settings) settings {
		s.idleTimeout = timeout
		return s
	}
}

// WithReadHeaderTimeout sets the time allowed to read request headers.
func WithReadHeaderTimeout(timeout time.Duration) Option {
	return func(s settings) settings {
		s.readHeaderTimeout = timeout
		return s
	}
}

// WithMaxHeaderBytes sets the maximum size of request headers.
func WithMaxHeaderBytes(size int) Option {
	return func(s settings) settings {
		s.maxHeaderBytes = size
		return s
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s settings) settings {
		s.shutdownTimeout = timeout
		return s
	}
}

// WithRoutes adds routes before startup.
func WithRoutes(routes ...Route) Option {
	return func(s settings) settings {
		s.routes = append(s.routes, routes...)
		return s
	}
}

// WithMiddlewares adds global middlewares, applied to every route in order.
func WithMiddlewares(middlewares ...Middleware) Option {
	return func(s settings) settings {
		s.globalMiddlewares = append(s.globalMiddlewares, middlewares...)
		return s
	}
}

// WithErrorHandler overrides how handler errors become responses.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(s settings) settings {
		s.errorHandler = handler
		return s
	}
}

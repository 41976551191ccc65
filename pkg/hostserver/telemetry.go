package hostserver

import (
	"context"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/faaskit/telemetry-go/pkg/requestctx"
)

type contextKey string

const telemetryKey contextKey = "telemetry-scope"

// Headers the host reads from the invoking client.
const (
	HeaderClientID       = "X-Client-Id"
	HeaderOperationID    = "X-Operation-Id"
	HeaderTimeoutSeconds = "X-Timeout-Seconds"

	// HeaderTimedOut marks responses whose function hit its deadline.
	HeaderTimedOut = "X-Function-Timeout"
)

// TelemetryConfig is the per-process part of the telemetry scope; the
// middleware fills in the per-request part from each request.
type TelemetryConfig struct {
	// Base is the scope configuration shared by every request. Client and
	// Meta are overwritten per request.
	Base requestctx.Config

	// Operation extracts the logical operation name from the request.
	// Required.
	Operation func(r *http.Request) string

	// FlushTimeout bounds the end-of-request flush wait. Zero means 10
	// seconds.
	FlushTimeout time.Duration
}

// Telemetry opens a telemetry scope around every request: it builds the
// client snapshot and call metadata from the request, stores the scope in
// the request context, and flushes and closes it when the handler returns.
// Panics are reported through the scope's fault sink before re-answering
// with 500.
func Telemetry(cfg TelemetryConfig) Middleware {
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopeCfg := cfg.Base
			scopeCfg.Client = clientInfo(r)
			timeoutSeconds, _ := strconv.ParseFloat(r.Header.Get(HeaderTimeoutSeconds), 64)
			scopeCfg.Meta = requestctx.CallMetadata{
				Operation:      cfg.Operation(r),
				TimeoutSeconds: timeoutSeconds,
			}

			tctx, err := requestctx.New(r.Context(), scopeCfg)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			defer tctx.Close()

			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				if v := recover(); v != nil {
					if scopeCfg.FaultSink != nil {
						scopeCfg.FaultSink.ReportPanic(v, debug.Stack())
					}
					flush(tctx, flushTimeout)
					if !rec.wrote {
						http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
					return
				}

				flush(tctx, flushTimeout)
				// A timed-out function usually never writes; mark the
				// response while it is still open.
				if tctx.TimedOut() && !rec.wrote {
					w.Header().Set(HeaderTimedOut, "true")
					w.WriteHeader(http.StatusGatewayTimeout)
				}
			}()

			ctx := context.WithValue(r.Context(), telemetryKey, tctx)
			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

// statusRecorder tracks whether the handler already produced a response.
type statusRecorder struct {
	http.ResponseWriter
	wrote bool
}

func (s *statusRecorder) WriteHeader(code int) {
	s.wrote = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(p)
}

// FromContext returns the request's telemetry scope, nil outside the
// Telemetry middleware.
func FromContext(ctx context.Context) *requestctx.Context {
	tctx, _ := ctx.Value(telemetryKey).(*requestctx.Context)
	return tctx
}

// FromRequest is FromContext over the request's context.
func FromRequest(r *http.Request) *requestctx.Context {
	return FromContext(r.Context())
}

// flush runs the scope's final flush. A failure here cannot be recorded
// through the scope's own pipeline; it goes to the process logger.
func flush(tctx *requestctx.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := tctx.Flush(ctx); err != nil {
		log.Printf("telemetry flush incomplete for operation %s: %v", tctx.Client().OperationID, err)
	}
}

func clientInfo(r *http.Request) requestctx.ClientInfo {
	ip, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return requestctx.ClientInfo{
		OperationID: r.Header.Get(HeaderOperationID),
		ClientID:    r.Header.Get(HeaderClientID),
		ClientIP:    ip,
		ClientPort:  port,
		UserAgent:   r.UserAgent(),
	}
}

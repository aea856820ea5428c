package middleware

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskqueue/internal/api/shared"
	"github.com/phrazzld/taskqueue/internal/platform/logger"
)

// TraceHeader carries the trace ID on requests and responses.
const TraceHeader = "X-Trace-ID"

var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{8,64}$`)

// NewTraceMiddleware assigns every request a trace ID, reusing a
// well-formed incoming X-Trace-ID. The ID is echoed in the response, added
// to a request-scoped logger stored in the context, and included in the
// completion log line.
func NewTraceMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if incoming := r.Header.Get(TraceHeader); traceIDPattern.MatchString(incoming) {
				ctx = shared.WithTraceID(ctx, incoming)
			} else {
				ctx = shared.SetTraceID(ctx)
			}
			traceID := shared.GetTraceID(ctx)

			reqLog := log.With(slog.String("trace_id", traceID))
			if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
				reqLog = reqLog.With(slog.String("request_id", reqID))
			}
			ctx = logger.WithLogger(ctx, reqLog)

			w.Header().Set(TraceHeader, traceID)
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqLog.Debug("request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr))
		})
	}
}

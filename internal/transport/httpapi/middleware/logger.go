package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pineos/referral-ledger/pkg/logger"
)

// failureBodyLimit caps how much of an error response body is buffered
// for the log line.
const failureBodyLimit = 2048

// failureRecorder buffers the start of the response body when the handler
// reported an error status, so the log line can carry the error message.
type failureRecorder struct {
	chimiddleware.WrapResponseWriter
	body bytes.Buffer
}

func (fr *failureRecorder) Write(b []byte) (int, error) {
	if fr.Status() >= http.StatusBadRequest && fr.body.Len() < failureBodyLimit {
		remaining := failureBodyLimit - fr.body.Len()
		if len(b) < remaining {
			remaining = len(b)
		}
		fr.body.Write(b[:remaining])
	}
	return fr.WrapResponseWriter.Write(b)
}

// errorField pulls the "error" field out of the standard error envelope.
func errorField(body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil {
		return ""
	}
	return envelope.Error
}

// Logger emits one structured line per request. Client errors log at warn,
// server errors at error, everything else at info.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			rec := &failureRecorder{
				WrapResponseWriter: chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor),
			}
			start := time.Now()

			// Make chi's request ID visible to handler and service logs.
			reqID := chimiddleware.GetReqID(r.Context())
			if reqID != "" {
				r = r.WithContext(context.WithValue(r.Context(), logger.RequestIDKey, reqID))
			}

			next.ServeHTTP(rec, r)

			status := rec.Status()
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", rec.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			}
			if reqID != "" {
				fields = append(fields, "request_id", reqID)
			}
			if status >= http.StatusBadRequest {
				if msg := errorField(rec.body.Bytes()); msg != "" {
					fields = append(fields, "error", msg)
				}
			}

			switch {
			case status >= http.StatusInternalServerError:
				log.Error("HTTP request", fields...)
			case status >= http.StatusBadRequest:
				log.Warn("HTTP request", fields...)
			default:
				log.Info("HTTP request", fields...)
			}
		}
		return http.HandlerFunc(fn)
	}
}

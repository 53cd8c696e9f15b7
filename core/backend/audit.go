package backend

import (
	"context"
	"net/http"
	"strconv"

	"github.com/potionlabs/potionshop/core/logger"
)

// AuditSink receives an entry for every request that failed. The backend
// ships with logger.DBAuditLog; tests plug in their own.
type AuditSink interface {
	Record(ctx context.Context, entry logger.AuditEntry)
}

// responseRecorder captures the status and body written by the handler,
// while everything still goes out to the client as usual.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (rec *responseRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(body []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body = append(rec.body, body...)
	return rec.ResponseWriter.Write(body)
}

// auditMiddleware records every request answered with a 4xx or 5xx
// status to the sink, including the stashed request body and the full
// error response.
func auditMiddleware(sink AuditSink) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w}
			h.ServeHTTP(rec, r)
			if rec.status < http.StatusBadRequest {
				return
			}
			sink.Record(r.Context(), logger.AuditEntry{
				Level:          "ERROR",
				Message:        "Request Error",
				RequestRoute:   r.Method + " : " + r.URL.RequestURI(),
				RequestHeaders: r.Header,
				RequestBody:    BodyFromContext(r.Context()),
				ResponseStatus: strconv.Itoa(rec.status),
				ResponseBody:   rec.body,
			})
		})
	}
}

package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

type contextKeyBodyStashType struct{}

var contextKeyBodyStash = &contextKeyBodyStashType{}

// stashMiddleware buffers the request body into the context before any
// handler runs, so the audit log can still see it after the handler has
// consumed the body. The handler gets a fresh reader over the same
// bytes.
func stashMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			h.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			http.Error(w, "cannot read request body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), contextKeyBodyStash, body)
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BodyFromContext returns the stashed request body, or nil if the
// request had none.
func BodyFromContext(ctx context.Context) []byte {
	body, _ := ctx.Value(contextKeyBodyStash).([]byte)
	return body
}

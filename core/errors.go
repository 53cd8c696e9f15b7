package core

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
)

// Kind classifies a domain failure. Handlers translate kinds into HTTP
// status codes, nothing else ever reaches the client.
type Kind string

// all failure kinds
const (
	// KindNotFound means a primary-key lookup missed
	KindNotFound Kind = "not found"
	// KindUnknownColumn means a filter or update referenced a column the
	// table does not have. For historic reasons this is surfaced to clients
	// like a missed lookup (404), see the operator documentation.
	KindUnknownColumn Kind = "unknown column"
	// KindInvalidContent means the request body shape does not match the table layout
	KindInvalidContent Kind = "invalid content"
	// KindUnsupportedParameter means the query string contained parameter
	// names that are neither columns nor "limit"
	KindUnsupportedParameter Kind = "unsupported parameter"
	// KindInvalidLimit means the reserved "limit" parameter was negative or not a number
	KindInvalidLimit Kind = "invalid limit"
	// KindStorageConflict means the storage engine rejected the operation
	// with a constraint violation (uniqueness or foreign key)
	KindStorageConflict Kind = "storage conflict"
	// KindUnauthorized means the authentication gate rejected the caller
	KindUnauthorized Kind = "unauthorized"
)

// Error is a domain failure with a client-safe detail message.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

// NewError creates a domain failure of the given kind
func NewError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// IsKind reports whether err is a domain failure of the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Detail returns the client-safe detail of a domain failure, or a generic
// message for anything else. Storage engine internals must not leak.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return "internal error"
}

// ErrorEnvelope is the JSON shape of every error response.
type ErrorEnvelope struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// WriteError writes the {"title","description"} error envelope
func WriteError(w http.ResponseWriter, status int, title, description string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	jsonData, _ := json.MarshalWithOption(
		ErrorEnvelope{Title: title, Description: description}, json.DisableHTMLEscape())
	w.Write(jsonData)
}

package backend

import (
	"github.com/goccy/go-json"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Resources []ResourceConfiguration `json:"resources"`
}

// ResourceConfiguration describes one collection resource backed by
// one relational table.
type ResourceConfiguration struct {
	// Resource is the route path relative to the backend prefix,
	// e.g. "potions/types"
	Resource string `json:"resource"`
	// Table is the SQL table name. Defaults to the last segment of Resource.
	Table string `json:"table"`
	// ReadOnly restricts the resource to the read-only tier (list and get)
	ReadOnly bool `json:"read_only"`
	// Columns are the table columns. The primary key "id" is implicit,
	// auto-assigned by storage and immutable.
	Columns     []ColumnConfiguration `json:"columns"`
	Description string                `json:"description"`
}

// ColumnConfiguration describes a single column
type ColumnConfiguration struct {
	Name string `json:"name"`
	// Type is the semantic type, one of "integer", "real", "text", "boolean"
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Unique   bool   `json:"unique"`
	// Required makes the column mandatory in create request bodies
	Required bool `json:"required"`
	// References names a table whose id column this column points to.
	// Referential integrity is enforced by the storage engine.
	References string `json:"references"`
	// Default is the value used on creation when the request body omits
	// the column
	Default json.RawMessage `json:"default"`
}

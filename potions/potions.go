/*Package potions defines the resources of the potion shop and mounts
them on a storage backend.

All four resources are full read-write resources. Seed fills the
catalogue resources potions/types and potions/potency on an empty
database so a fresh shop starts usable.
*/
package potions

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/potionlabs/potionshop/core/backend"
	"github.com/potionlabs/potionshop/core/csql"
)

const configurationJSON = `{
  "resources": [
    {
      "resource": "potions/types",
      "table": "potion_types",
      "description": "the kinds of potions the shop knows about",
      "columns": [
        { "name": "related_stat", "type": "text", "required": true },
        { "name": "color", "type": "text", "required": true, "unique": true }
      ]
    },
    {
      "resource": "potions/potency",
      "table": "potion_potency",
      "description": "how strong a potion brew is",
      "columns": [
        { "name": "prefix", "type": "text", "nullable": true },
        { "name": "restores", "type": "real", "required": true, "unique": true }
      ]
    },
    {
      "resource": "potions",
      "table": "potions",
      "description": "a brewed potion, a type at a potency",
      "columns": [
        { "name": "type_id", "type": "integer", "required": true, "references": "potion_types" },
        { "name": "potency_id", "type": "integer", "required": true, "references": "potion_potency" }
      ]
    },
    {
      "resource": "inventory",
      "table": "potion_inventory",
      "description": "potions on the shelf, with price and stock",
      "columns": [
        { "name": "potion_id", "type": "integer", "required": true, "references": "potions" },
        { "name": "price", "type": "integer", "required": true },
        { "name": "amount", "type": "integer", "required": true },
        { "name": "on_sale", "type": "boolean", "default": false }
      ]
    }
  ]
}`

// Configuration returns the resource configuration of the potion shop.
func Configuration() backend.Configuration {
	var config backend.Configuration
	if err := json.Unmarshal([]byte(configurationJSON), &config); err != nil {
		panic("potions: invalid configuration: " + err.Error())
	}
	return config
}

// Builder is the input to New.
type Builder struct {
	DB            *csql.DB
	Router        *mux.Router
	Prefix        string
	UpdateSchema  bool
	Authenticator mux.MiddlewareFunc
	AuditSink     backend.AuditSink
	WithCORS      bool
}

// Shop is the potion shop API: the generic storage backend for its
// resources plus the potion description routes.
type Shop struct {
	*backend.Backend
}

// New creates the potion shop on the given database and router. Like
// the storage backend, it panics on configuration errors.
func New(bb *Builder) *Shop {
	b := backend.New(&backend.Builder{
		Config:        Configuration(),
		DB:            bb.DB,
		Router:        bb.Router,
		Prefix:        bb.Prefix,
		UpdateSchema:  bb.UpdateSchema,
		Authenticator: bb.Authenticator,
		AuditSink:     bb.AuditSink,
		WithCORS:      bb.WithCORS,
	})
	prefix := bb.Prefix
	if prefix == "" {
		prefix = "/v1"
	}
	shop := &Shop{Backend: b}
	addDescribeRoutes(shop, bb.DB, prefix)
	return shop
}

// Seed fills the catalogue resources if they are still empty, so a
// fresh database starts with a usable shop.
func (s *Shop) Seed(ctx context.Context) error {
	seeds := map[string][]backend.Record{
		"potions/types": {
			{"related_stat": "health", "color": "red"},
			{"related_stat": "mana", "color": "blue"},
			{"related_stat": "stamina", "color": "green"},
		},
		"potions/potency": {
			{"prefix": nil, "restores": 0.3},
			{"prefix": "greater", "restores": 0.6},
			{"prefix": "superior", "restores": 0.8},
			{"prefix": "mega-", "restores": 1.0},
		},
	}
	for resource, records := range seeds {
		op := s.Operator(resource)
		empty, err := op.IsEmpty(ctx)
		if err != nil {
			return err
		}
		if !empty {
			continue
		}
		if _, err := op.Create(ctx, records); err != nil {
			return err
		}
	}
	return nil
}

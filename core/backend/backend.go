/*Package backend translates a declarative resource configuration into a
complete REST storage backend.

Every configured resource gets a database table, a JSON schema for its
create requests, precomputed SQL queries, and a set of collection and
item routes on a gorilla/mux router. Which routes exist depends on the
resource tier: read-only resources answer GET only, full resources add
create, update and delete.
*/
package backend

import (
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/potionlabs/potionshop/core"
	"github.com/potionlabs/potionshop/core/csql"
	"github.com/potionlabs/potionshop/core/logger"
	"github.com/potionlabs/potionshop/core/registry"
	"github.com/potionlabs/potionshop/core/schema"
)

// Builder is the input to New.
//
// Config and DB are mandatory. Everything else is optional: Router to
// mount the routes on an existing router, Prefix to change the default
// "/v1", Authenticator to guard the routes, AuditSink to record failed
// requests, UpdateSchema to create missing tables on startup.
type Builder struct {
	Config        Configuration
	DB            *csql.DB
	Router        *mux.Router
	Prefix        string
	UpdateSchema  bool
	Authenticator mux.MiddlewareFunc
	AuditSink     AuditSink
	WithCORS      bool
}

// Backend is the actual backend. Create it with New.
type Backend struct {
	db            *csql.DB
	router        *mux.Router
	prefix        string
	operators     map[string]*Operator
	authenticator mux.MiddlewareFunc
	auditSink     AuditSink
	withCORS      bool
}

// New creates a backend from a builder. Configuration errors are
// programming errors, hence it panics on them.
func New(bb *Builder) *Backend {
	if bb.DB == nil {
		panic("backend builder: DB is missing")
	}
	router := bb.Router
	if router == nil {
		router = mux.NewRouter()
	}
	prefix := bb.Prefix
	if prefix == "" {
		prefix = "/v1"
	}
	b := &Backend{
		db:            bb.DB,
		router:        router,
		prefix:        prefix,
		operators:     map[string]*Operator{},
		authenticator: bb.Authenticator,
		auditSink:     bb.AuditSink,
		withCORS:      bb.WithCORS,
	}

	rlog := logger.Default()
	descriptors := make([]*descriptor, len(bb.Config.Resources))
	schemas := make([]string, len(bb.Config.Resources))
	for i, rc := range bb.Config.Resources {
		d, err := compileDescriptor(rc)
		if err != nil {
			panic(fmt.Sprintf("backend builder: %v", err))
		}
		if _, ok := b.operators[d.resource]; ok {
			panic("backend builder: duplicate resource " + d.resource)
		}
		descriptors[i] = d
		schemas[i] = d.jsonSchema()
		b.operators[d.resource] = newOperator(bb.DB, d)
	}
	validator, err := schema.NewValidator(schemas)
	if err != nil {
		panic(fmt.Sprintf("backend builder: %v", err))
	}

	if bb.UpdateSchema {
		for _, d := range dependencyOrder(descriptors) {
			rlog.Debugln("create table", d.table)
			if _, err := bb.DB.Exec(d.createQuery(bb.DB.Flavor)); err != nil {
				panic(fmt.Sprintf("backend builder: create table %s: %v", d.table, err))
			}
		}
		// remember what this schema was built from
		reg := registry.New(bb.DB).Accessor("backend")
		if err := reg.Write("configuration", bb.Config); err != nil {
			panic(fmt.Sprintf("backend builder: %v", err))
		}
	}

	for _, d := range descriptors {
		b.addRoutes(d, validator)
	}
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		core.WriteError(w, http.StatusMethodNotAllowed,
			"405 Method Not Allowed", "The method is not allowed for this resource")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		core.WriteError(w, http.StatusNotFound,
			"404 Not Found", "This resource does not exist")
	})
	return b
}

// dependencyOrder sorts descriptors so that every table comes after the
// tables it references. Unresolvable references panic.
func dependencyOrder(descriptors []*descriptor) []*descriptor {
	created := map[string]bool{}
	ordered := []*descriptor{}
	remaining := append([]*descriptor{}, descriptors...)
	for len(remaining) > 0 {
		progress := false
		next := remaining[:0]
		for _, d := range remaining {
			ready := true
			for _, col := range d.columns {
				if col.references != "" && col.references != d.table && !created[col.references] {
					ready = false
					break
				}
			}
			if ready {
				created[d.table] = true
				ordered = append(ordered, d)
				progress = true
			} else {
				next = append(next, d)
			}
		}
		if !progress {
			panic("backend builder: cyclic or unknown table reference")
		}
		remaining = next
	}
	return ordered
}

func (b *Backend) addRoutes(d *descriptor, validator *schema.Validator) {
	c := &collection{
		operator:  b.operators[d.resource],
		validator: validator,
	}
	collectionRoute := b.prefix + "/" + d.resource
	itemRoute := collectionRoute + "/{id:[0-9]+}"
	rlog := logger.Default()
	rlog.Debugln("add route", collectionRoute)

	b.router.HandleFunc(collectionRoute, c.list).Methods(http.MethodGet)
	b.router.HandleFunc(itemRoute, c.read).Methods(http.MethodGet)
	if d.readOnly {
		return
	}
	b.router.HandleFunc(collectionRoute, c.create).Methods(http.MethodPost)
	b.router.HandleFunc(itemRoute, c.update).Methods(http.MethodPut)
	b.router.HandleFunc(itemRoute, c.delete).Methods(http.MethodDelete)
}

// Router returns the router the backend's routes live on.
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Operator returns the row operator for a resource, or nil if the
// resource is not configured.
func (b *Backend) Operator(resource string) *Operator {
	return b.operators[resource]
}

// Handler returns the full middleware chain around the router, ready
// for ListenAndServe. The chain runs, outside in: request ID, body
// stash, audit, CORS, authentication. The chain wraps the router
// instead of using router middleware so the not-found and
// method-not-allowed responses pass through it as well.
func (b *Backend) Handler() http.Handler {
	var h http.Handler = b.router
	if b.authenticator != nil {
		h = b.authenticator(h)
	}
	if b.withCORS {
		h = handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{
				http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
			}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(h)
	}
	if b.auditSink != nil {
		h = auditMiddleware(b.auditSink)(h)
	}
	h = stashMiddleware(h)
	return logger.Middleware(h)
}

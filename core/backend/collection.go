package backend

import (
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/potionlabs/potionshop/core"
	"github.com/potionlabs/potionshop/core/logger"
	"github.com/potionlabs/potionshop/core/schema"
)

// resultsEnvelope is the body of every successful collection or item
// read: the matching rows, always as an array, even for a single id.
type resultsEnvelope struct {
	Results []Record `json:"results"`
}

// collection serves the routes of one resource. Read-only resources get
// only the GET handlers; the write handlers are registered on top for
// full resources.
type collection struct {
	operator  *Operator
	validator *schema.Validator
}

func (c *collection) itemID(r *http.Request) int64 {
	// the route pattern guarantees digits only
	id, _ := strconv.ParseInt(mux.Vars(r)[primaryKey], 10, 64)
	return id
}

func (c *collection) log(r *http.Request, op core.Operation) {
	logger.FromContext(r.Context()).Debugln(op, c.operator.Resource())
}

func (c *collection) list(w http.ResponseWriter, r *http.Request) {
	c.log(r, core.OperationList)
	records, err := c.operator.List(r.Context(), r.URL.Query())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeResults(w, http.StatusOK, records)
}

func (c *collection) read(w http.ResponseWriter, r *http.Request) {
	c.log(r, core.OperationRead)
	record, err := c.operator.GetByID(r.Context(), c.itemID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeResults(w, http.StatusOK, []Record{record})
}

func (c *collection) create(w http.ResponseWriter, r *http.Request) {
	c.log(r, core.OperationCreate)
	records, err := c.decodeCreateBody(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	created, err := c.operator.Create(r.Context(), records)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeResults(w, http.StatusCreated, created)
}

func (c *collection) update(w http.ResponseWriter, r *http.Request) {
	c.log(r, core.OperationUpdate)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		writeDomainError(w, r, core.NewError(core.KindInvalidContent,
			"Please provide valid JSON."))
		return
	}
	patch, ok := raw.(map[string]interface{})
	if !ok {
		writeDomainError(w, r, core.NewError(core.KindInvalidContent,
			"Request body must be a JSON object"))
		return
	}
	if err := c.operator.UpdateByID(r.Context(), c.itemID(r), Record(patch)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *collection) delete(w http.ResponseWriter, r *http.Request) {
	c.log(r, core.OperationDelete)
	if err := c.operator.DeleteByID(r.Context(), c.itemID(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeCreateBody accepts a single object or an array of objects, and
// validates each against the resource's schema before anything is
// written.
func (c *collection) decodeCreateBody(r *http.Request) ([]Record, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, core.NewError(core.KindInvalidContent,
			"Please provide valid JSON.")
	}
	elements, ok := raw.([]interface{})
	if !ok {
		elements = []interface{}{raw}
	}
	if len(elements) == 0 {
		return nil, core.NewError(core.KindInvalidContent,
			"Request body must not be an empty list")
	}
	records := make([]Record, len(elements))
	for i, element := range elements {
		if err := c.validator.ValidateStruct(element, c.operator.descriptor.table); err != nil {
			return nil, core.NewError(core.KindInvalidContent, err.Error())
		}
		object, ok := element.(map[string]interface{})
		if !ok {
			return nil, core.NewError(core.KindInvalidContent,
				"Request body elements must be JSON objects")
		}
		records[i] = Record(object)
	}
	return records, nil
}

func writeResults(w http.ResponseWriter, status int, records []Record) {
	if records == nil {
		records = []Record{}
	}
	body, _ := json.MarshalWithOption(resultsEnvelope{Results: records},
		json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}

// writeDomainError translates an error into its HTTP representation.
// Unknown columns in searches and updates deliberately read like missing
// resources, so the API does not leak its schema.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	rlog := logger.FromContext(r.Context())
	switch {
	case core.IsKind(err, core.KindNotFound), core.IsKind(err, core.KindUnknownColumn):
		core.WriteError(w, http.StatusNotFound, "404 Not Found", core.Detail(err))
	case core.IsKind(err, core.KindInvalidContent):
		core.WriteError(w, http.StatusBadRequest, "Invalid Content", core.Detail(err))
	case core.IsKind(err, core.KindUnsupportedParameter), core.IsKind(err, core.KindInvalidLimit):
		core.WriteError(w, http.StatusBadRequest, "400 Bad Request", core.Detail(err))
	case core.IsKind(err, core.KindStorageConflict):
		core.WriteError(w, http.StatusBadRequest, "Database Error", core.Detail(err))
	default:
		rlog.WithError(err).Errorln("request failed")
		core.WriteError(w, http.StatusInternalServerError,
			"500 Internal Server Error", "internal error")
	}
}

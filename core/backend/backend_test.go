package backend

import (
	"context"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/potionlabs/potionshop/core"
	"github.com/potionlabs/potionshop/core/client"
	"github.com/potionlabs/potionshop/core/csql"
)

var testConfigurationJSON = `{
	"resources": [
	  {
		"resource": "kinds",
		"table": "kinds",
		"read_only": true,
		"columns": [
		  { "name": "name", "type": "text", "required": true, "unique": true }
		]
	  },
	  {
		"resource": "gadgets",
		"table": "gadgets",
		"columns": [
		  { "name": "kind_id", "type": "integer", "required": true, "references": "kinds" },
		  { "name": "label", "type": "text", "required": true, "unique": true },
		  { "name": "mass", "type": "real", "nullable": true },
		  { "name": "count", "type": "integer", "required": true },
		  { "name": "active", "type": "boolean", "default": false }
		]
	  }
	]
  }
`

// TestService is one complete backend on a fresh in-memory database,
// with an in-process client talking to the full middleware chain.
type TestService struct {
	Db      *csql.DB
	backend *Backend
	client  client.Client
}

func createTestService(t *testing.T) *TestService {
	t.Helper()
	s := &TestService{}
	s.Db = csql.OpenSQLite(":memory:")
	t.Cleanup(func() { s.Db.Close() })

	var config Configuration
	if err := json.Unmarshal([]byte(testConfigurationJSON), &config); err != nil {
		t.Fatal(err)
	}
	s.backend = New(&Builder{
		Config:       config,
		DB:           s.Db,
		Router:       mux.NewRouter(),
		UpdateSchema: true,
	})
	s.client = client.NewWithHandler(s.backend.Handler())
	return s
}

func asJSON(object interface{}) string {
	j, _ := json.Marshal(object)
	return string(j)
}

// Results is the envelope of every successful read
type Results struct {
	Results []Gadget `json:"results"`
}

// ErrorBody is the envelope of every error response
type ErrorBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Gadget struct {
	ID     int64    `json:"id"`
	KindID int64    `json:"kind_id"`
	Label  string   `json:"label"`
	Mass   *float64 `json:"mass"`
	Count  int64    `json:"count"`
	Active bool     `json:"active"`
}

// seedKind creates one kind through the operator, since kinds are
// read-only over the API, and returns its id.
func seedKind(t *testing.T, s *TestService, name string) int64 {
	t.Helper()
	created, err := s.backend.Operator("kinds").Create(context.Background(),
		[]Record{{"name": name}})
	if err != nil {
		t.Fatal(err)
	}
	return created[0]["id"].(int64)
}

func TestCollectionCRUD(t *testing.T) {
	s := createTestService(t)
	kindID := seedKind(t, s, "widget")

	var created Results
	status, err := s.client.RawPost("/v1/gadgets",
		map[string]interface{}{"kind_id": kindID, "label": "first", "count": 3},
		&created)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatal("unexpected status:", status)
	}
	if len(created.Results) != 1 {
		t.Fatal("unexpected result:", asJSON(created))
	}
	g := created.Results[0]
	if g.ID == 0 || g.Label != "first" || g.Count != 3 || g.Active {
		t.Fatal("unexpected result:", asJSON(g))
	}
	if g.Mass != nil {
		t.Fatal("mass should be null:", asJSON(g))
	}

	var read Results
	if _, err = s.client.RawGet("/v1/gadgets/1", &read); err != nil {
		t.Fatal(err)
	}
	if len(read.Results) != 1 || read.Results[0] != g {
		t.Fatal("unexpected result:", asJSON(read))
	}

	// repeated reads without intervening writes answer identically
	var first, second []byte
	if _, err = s.client.RawGet("/v1/gadgets/1", &first); err != nil {
		t.Fatal(err)
	}
	if _, err = s.client.RawGet("/v1/gadgets/1", &second); err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatal("reads differ:", string(first), "vs", string(second))
	}

	status, err = s.client.RawPut("/v1/gadgets/1",
		map[string]interface{}{"count": 7, "active": true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusNoContent {
		t.Fatal("unexpected status:", status)
	}
	if _, err = s.client.RawGet("/v1/gadgets/1", &read); err != nil {
		t.Fatal(err)
	}
	if read.Results[0].Count != 7 || !read.Results[0].Active {
		t.Fatal("update not applied:", asJSON(read))
	}

	status, err = s.client.RawDelete("/v1/gadgets/1")
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusNoContent {
		t.Fatal("unexpected status:", status)
	}

	// reads always answer with the results envelope, even when empty
	var raw []byte
	if _, err = s.client.RawGet("/v1/gadgets", &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"results":[]}` {
		t.Fatal("unexpected body:", string(raw))
	}
}

func TestCreateBatchIsAtomic(t *testing.T) {
	s := createTestService(t)
	kindID := seedKind(t, s, "widget")

	batch := []map[string]interface{}{
		{"kind_id": kindID, "label": "one", "count": 1},
		{"kind_id": kindID, "label": "one", "count": 2}, // duplicate label
	}
	var errBody ErrorBody
	var raw []byte
	status, _ := s.client.RawPost("/v1/gadgets", batch, &raw)
	if status != http.StatusBadRequest {
		t.Fatal("unexpected status:", status)
	}
	if err := json.Unmarshal(raw, &errBody); err != nil {
		t.Fatal(err)
	}
	if errBody.Title != "Database Error" {
		t.Fatal("unexpected error:", asJSON(errBody))
	}
	// a fixed sentence, no table or constraint names from the driver
	if errBody.Description != "Error occurred while updating database" {
		t.Fatal("unexpected description:", asJSON(errBody))
	}

	// nothing of the batch may have been stored
	var read Results
	if _, err := s.client.RawGet("/v1/gadgets", &read); err != nil {
		t.Fatal(err)
	}
	if len(read.Results) != 0 {
		t.Fatal("batch was partially stored:", asJSON(read))
	}
}

func TestCreateValidation(t *testing.T) {
	s := createTestService(t)
	kindID := seedKind(t, s, "widget")

	testCases := []struct {
		name string
		body interface{}
	}{
		{"missing required", map[string]interface{}{"kind_id": kindID, "count": 1}},
		{"unknown field", map[string]interface{}{"kind_id": kindID, "label": "x", "count": 1, "bogus": true}},
		{"wrong type", map[string]interface{}{"kind_id": kindID, "label": "x", "count": "three"}},
		{"id in body", map[string]interface{}{"id": 9, "kind_id": kindID, "label": "x", "count": 1}},
		{"not an object", "just a string"},
		{"empty batch", []interface{}{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var raw []byte
			status, _ := s.client.RawPost("/v1/gadgets", tc.body, &raw)
			if status != http.StatusBadRequest {
				t.Fatal("unexpected status:", status, string(raw))
			}
			var errBody ErrorBody
			if err := json.Unmarshal(raw, &errBody); err != nil {
				t.Fatal(err)
			}
			if errBody.Title != "Invalid Content" {
				t.Fatal("unexpected error:", asJSON(errBody))
			}
		})
	}
}

func TestUpdateErrors(t *testing.T) {
	s := createTestService(t)
	kindID := seedKind(t, s, "widget")
	if _, err := s.client.RawPost("/v1/gadgets",
		map[string]interface{}{"kind_id": kindID, "label": "x", "count": 1}, nil); err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name   string
		path   string
		body   interface{}
		status int
		title  string
	}{
		{"unknown column", "/v1/gadgets/1", map[string]interface{}{"bogus": 1}, http.StatusNotFound, "404 Not Found"},
		{"id is immutable", "/v1/gadgets/1", map[string]interface{}{"id": 2}, http.StatusBadRequest, "Invalid Content"},
		{"wrong type", "/v1/gadgets/1", map[string]interface{}{"count": "three"}, http.StatusBadRequest, "Invalid Content"},
		{"not an object", "/v1/gadgets/1", []interface{}{1, 2}, http.StatusBadRequest, "Invalid Content"},
		{"missing row", "/v1/gadgets/999", map[string]interface{}{"count": 2}, http.StatusNotFound, "404 Not Found"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := s.client.RawPut(tc.path, tc.body, nil)
			if status != tc.status {
				t.Fatal("unexpected status:", status)
			}
		})
	}
}

func TestDeleteReferencedRow(t *testing.T) {
	s := createTestService(t)
	kindID := seedKind(t, s, "widget")
	if _, err := s.client.RawPost("/v1/gadgets",
		map[string]interface{}{"kind_id": kindID, "label": "x", "count": 1}, nil); err != nil {
		t.Fatal(err)
	}

	// the kind is still referenced by the gadget
	err := s.backend.Operator("kinds").DeleteByID(context.Background(), kindID)
	if !core.IsKind(err, core.KindStorageConflict) {
		t.Fatal("expected constraint violation, got:", err)
	}
	if core.Detail(err) != "Error occurred while updating database" {
		t.Fatal("driver error leaked:", core.Detail(err))
	}
}

func TestReadOnlyResource(t *testing.T) {
	s := createTestService(t)
	seedKind(t, s, "widget")

	var raw []byte
	if _, err := s.client.RawGet("/v1/kinds", &raw); err != nil {
		t.Fatal(err)
	}
	if _, err := s.client.RawGet("/v1/kinds/1", &raw); err != nil {
		t.Fatal(err)
	}

	// writes are not routed for read-only resources
	status, _ := s.client.RawPost("/v1/kinds", map[string]interface{}{"name": "other"}, nil)
	if status != http.StatusMethodNotAllowed {
		t.Fatal("unexpected status:", status)
	}
	if status, _ = s.client.RawDelete("/v1/kinds/1"); status != http.StatusMethodNotAllowed {
		t.Fatal("unexpected status:", status)
	}
}

func TestNotFoundRoutes(t *testing.T) {
	s := createTestService(t)

	testCases := []struct {
		name string
		path string
	}{
		{"unknown resource", "/v1/sprockets"},
		{"non numeric id", "/v1/gadgets/abc"},
		{"missing row", "/v1/gadgets/12345"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var raw []byte
			status, _ := s.client.RawGet(tc.path, &raw)
			if status != http.StatusNotFound {
				t.Fatal("unexpected status:", status)
			}
			var errBody ErrorBody
			if err := json.Unmarshal(raw, &errBody); err != nil {
				t.Fatal("error response is not an envelope:", string(raw))
			}
			if errBody.Title != "404 Not Found" {
				t.Fatal("unexpected error:", asJSON(errBody))
			}
		})
	}
}

package backend

import (
	"net/http"
	"testing"

	"github.com/goccy/go-json"
)

// seedGadgets stores a fixed set of gadgets for the search tests and
// returns the test service.
func seedGadgets(t *testing.T) *TestService {
	t.Helper()
	s := createTestService(t)
	kindID := seedKind(t, s, "widget")
	batch := []map[string]interface{}{
		{"kind_id": kindID, "label": "Alpha", "mass": 1.5, "count": 3, "active": true},
		{"kind_id": kindID, "label": "alphabet", "mass": 2.5, "count": 3},
		{"kind_id": kindID, "label": "Beta", "mass": 1.5, "count": 7, "active": true},
		{"kind_id": kindID, "label": "100% organic", "mass": 0.5, "count": 100},
	}
	if _, err := s.client.RawPost("/v1/gadgets", batch, nil); err != nil {
		t.Fatal(err)
	}
	return s
}

func searchLabels(t *testing.T, s *TestService, query string) []string {
	t.Helper()
	var read Results
	if _, err := s.client.RawGet("/v1/gadgets?"+query, &read); err != nil {
		t.Fatal(err)
	}
	labels := make([]string, len(read.Results))
	for i, g := range read.Results {
		labels[i] = g.Label
	}
	return labels
}

func equalLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSearch(t *testing.T) {
	s := seedGadgets(t)

	testCases := []struct {
		name   string
		query  string
		labels []string
	}{
		{"text prefix", "label=Alp", []string{"Alpha", "alphabet"}},
		{"text prefix is case insensitive", "label=ALPHA", []string{"Alpha", "alphabet"}},
		{"text prefix is not a substring match", "label=pha", []string{}},
		{"like wildcards are literal", "label=100%25", []string{"100% organic"}},
		{"boolean true", "active=true", []string{"Alpha", "Beta"}},
		{"boolean vocabulary", "active=YES", []string{"Alpha", "Beta"}},
		{"boolean short form", "active=n", []string{"alphabet", "100% organic"}},
		{"boolean junk matches nothing", "active=maybe", []string{}},
		{"integer exact", "count=3", []string{"Alpha", "alphabet"}},
		{"integer junk matches nothing", "count=three", []string{}},
		{"integer fraction matches nothing", "count=3.5", []string{}},
		{"real exact", "mass=1.5", []string{"Alpha", "Beta"}},
		{"real junk matches nothing", "mass=heavy", []string{}},
		{"id filter", "id=3", []string{"Beta"}},
		{"combined filters", "count=3&active=t", []string{"Alpha"}},
		{"limit composes after filters", "count=3&limit=1", []string{"Alpha"}},
		{"limit zero", "limit=0", []string{}},
		{"empty limit is ignored", "limit=", []string{"Alpha", "alphabet", "Beta", "100% organic"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			labels := searchLabels(t, s, tc.query)
			if !equalLabels(labels, tc.labels) {
				t.Fatalf("unexpected result: got %v want %v", labels, tc.labels)
			}
		})
	}
}

func TestSearchBadRequests(t *testing.T) {
	s := seedGadgets(t)

	testCases := []struct {
		name        string
		query       string
		description string
	}{
		{"negative limit", "limit=-1", "Invalid value for 'limit' parameter."},
		{"junk limit", "limit=abc", "Invalid value for 'limit' parameter."},
		{"unknown parameter", "color=red", "Parameter color not supported. Must be one of active, count, id, kind_id, label, limit"},
		{"two unknown parameters", "flavor=sweet&color=red", "Parameters color, flavor not supported. Must be one of active, count, id, kind_id, label, limit"},
		{"repeated parameter", "count=3&count=7", "Parameter count given more than once"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var raw []byte
			status, _ := s.client.RawGet("/v1/gadgets?"+tc.query, &raw)
			if status != http.StatusBadRequest {
				t.Fatal("unexpected status:", status, string(raw))
			}
			var errBody ErrorBody
			if err := json.Unmarshal(raw, &errBody); err != nil {
				t.Fatal(err)
			}
			if errBody.Title != "400 Bad Request" {
				t.Fatal("unexpected title:", asJSON(errBody))
			}
			if errBody.Description != tc.description {
				t.Fatal("unexpected description:", asJSON(errBody))
			}
		})
	}
}

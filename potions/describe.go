package potions

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/potionlabs/potionshop/core"
	"github.com/potionlabs/potionshop/core/csql"
)

// describer renders human readable potion descriptions, joined from the
// potion, its type and its potency.
type describer struct {
	db *csql.DB

	selectAllQuery  string
	selectByIDQuery string
}

const describeSelect = `SELECT t.color, p.prefix, p.restores, t.related_stat
FROM "potions" o
JOIN "potion_types" t ON t.id = o.type_id
JOIN "potion_potency" p ON p.id = o.potency_id`

func addDescribeRoutes(s *Shop, db *csql.DB, prefix string) {
	d := &describer{
		db:              db,
		selectAllQuery:  describeSelect + " ORDER BY o.id;",
		selectByIDQuery: describeSelect + " WHERE o.id = $1;",
	}
	router := s.Router()
	router.HandleFunc(prefix+"/potions/describe", d.describeAll).Methods(http.MethodGet)
	router.HandleFunc(prefix+"/potions/describe/{id:[0-9]+}", d.describeOne).Methods(http.MethodGet)
}

func (d *describer) describeAll(w http.ResponseWriter, r *http.Request) {
	rows, err := d.db.QueryContext(r.Context(), d.selectAllQuery)
	if err != nil {
		core.WriteError(w, http.StatusInternalServerError,
			"500 Internal Server Error", "internal error")
		return
	}
	defer rows.Close()
	// deliberately nil, not []string{}: with no potions the response
	// body is null
	var descriptions []string
	for rows.Next() {
		text, err := scanDescription(rows.Scan)
		if err != nil {
			core.WriteError(w, http.StatusInternalServerError,
				"500 Internal Server Error", "internal error")
			return
		}
		descriptions = append(descriptions, text)
	}
	if err := rows.Err(); err != nil {
		core.WriteError(w, http.StatusInternalServerError,
			"500 Internal Server Error", "internal error")
		return
	}
	writeJSON(w, descriptions)
}

func (d *describer) describeOne(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	text, err := scanDescription(func(dest ...interface{}) error {
		return d.db.QueryRowContext(r.Context(), d.selectByIDQuery, id).Scan(dest...)
	})
	if err == csql.ErrNoRows {
		core.WriteError(w, http.StatusNotFound, "404 Not Found",
			"potions "+strconv.FormatInt(id, 10)+" not found")
		return
	}
	if err != nil {
		core.WriteError(w, http.StatusInternalServerError,
			"500 Internal Server Error", "internal error")
		return
	}
	writeJSON(w, text)
}

func scanDescription(scan func(dest ...interface{}) error) (string, error) {
	var (
		color    string
		prefix   *string
		restores float64
		stat     string
	)
	if err := scan(&color, &prefix, &restores, &stat); err != nil {
		return "", err
	}
	return description(color, prefix, restores, stat), nil
}

// description renders one potion as prose, for example "The blue
// Greater Potion restores 60% of the drinker's Mana." A potency prefix
// ending in a dash glues directly onto "Potion"; an empty prefix reads
// like no prefix at all.
func description(color string, prefix *string, restores float64, stat string) string {
	p := ""
	if prefix != nil && *prefix != "" {
		p = core.Title(*prefix)
		if !core.HasAnySuffix(p, "-", " ") {
			p += " "
		}
	}
	percent := strconv.FormatFloat(restores*100, 'f', 0, 64)
	return "The " + color + " " + p + "Potion restores " + percent +
		"% of the drinker's " + core.Title(stat) + "."
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	body, _ := json.MarshalWithOption(value, json.DisableHTMLEscape())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

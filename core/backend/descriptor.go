package backend

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/potionlabs/potionshop/core"
	"github.com/potionlabs/potionshop/core/csql"
)

// columnType is the semantic type of a column. The query translator
// dispatches its matching rules on it.
type columnType string

const (
	columnTypeInteger columnType = "integer"
	columnTypeReal    columnType = "real"
	columnTypeText    columnType = "text"
	columnTypeBoolean columnType = "boolean"
)

func parseColumnType(s string) (columnType, error) {
	switch columnType(s) {
	case columnTypeInteger, columnTypeReal, columnTypeText, columnTypeBoolean:
		return columnType(s), nil
	}
	return "", fmt.Errorf("unknown column type %q", s)
}

type column struct {
	name         string
	typ          columnType
	nullable     bool
	unique       bool
	required     bool
	references   string
	defaultValue interface{}
	hasDefault   bool
}

// descriptor is the compiled, immutable metadata for one table. It is
// built once per resource when the backend is created and consulted by
// the row operator and the query translator, a static lookup instead of
// runtime reflection.
type descriptor struct {
	resource string
	table    string
	readOnly bool
	columns  []column
	// allowedParams are the valid query parameter names on the
	// collection route: every column, the id, and "limit"
	allowedParams map[string]bool
}

const primaryKey = "id"

func compileDescriptor(rc ResourceConfiguration) (*descriptor, error) {
	if rc.Resource == "" {
		return nil, fmt.Errorf("resource without a path")
	}
	table := rc.Table
	if table == "" {
		segments := strings.Split(rc.Resource, "/")
		table = segments[len(segments)-1]
	}
	d := &descriptor{
		resource:      rc.Resource,
		table:         table,
		readOnly:      rc.ReadOnly,
		allowedParams: map[string]bool{primaryKey: true, "limit": true},
	}
	for _, cc := range rc.Columns {
		if cc.Name == "" || cc.Name == primaryKey {
			return nil, fmt.Errorf("table %s: invalid column name %q", table, cc.Name)
		}
		typ, err := parseColumnType(cc.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s, column %s: %v", table, cc.Name, err)
		}
		if cc.References != "" && typ != columnTypeInteger {
			return nil, fmt.Errorf("table %s, column %s: foreign keys must be integer", table, cc.Name)
		}
		col := column{
			name:       cc.Name,
			typ:        typ,
			nullable:   cc.Nullable,
			unique:     cc.Unique,
			required:   cc.Required,
			references: cc.References,
		}
		if len(cc.Default) > 0 {
			var raw interface{}
			if err := json.Unmarshal(cc.Default, &raw); err != nil {
				return nil, fmt.Errorf("table %s, column %s: invalid default: %v", table, cc.Name, err)
			}
			col.defaultValue, err = col.convertValue(raw)
			if err != nil {
				return nil, fmt.Errorf("table %s, column %s: invalid default", table, cc.Name)
			}
			col.hasDefault = true
		}
		d.columns = append(d.columns, col)
		d.allowedParams[strings.ToLower(cc.Name)] = true
	}
	return d, nil
}

func (d *descriptor) column(name string) *column {
	for i := range d.columns {
		if d.columns[i].name == name {
			return &d.columns[i]
		}
	}
	return nil
}

// selectList returns "id, col1, ..., coln"
func (d *descriptor) selectList() string {
	names := make([]string, 0, len(d.columns)+1)
	names = append(names, primaryKey)
	for _, col := range d.columns {
		names = append(names, col.name)
	}
	return strings.Join(names, ", ")
}

// createQuery returns the CREATE TABLE statement for the given flavor.
// Foreign keys deliberately have no ON DELETE action, so the storage
// engine blocks deletion of a row that is still referenced.
func (d *descriptor) createQuery(flavor csql.Flavor) string {
	idColumn := primaryKey + " bigserial PRIMARY KEY"
	if flavor == csql.FlavorSQLite {
		idColumn = primaryKey + " integer PRIMARY KEY AUTOINCREMENT"
	}
	createColumns := []string{idColumn}
	for _, col := range d.columns {
		createColumn := col.name + " " + col.sqlType(flavor)
		if !col.nullable {
			createColumn += " NOT NULL"
		}
		if col.unique {
			createColumn += " UNIQUE"
		}
		if col.references != "" {
			createColumn += fmt.Sprintf(" REFERENCES \"%s\" (%s)", col.references, primaryKey)
		}
		createColumns = append(createColumns, createColumn)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS \"%s\" (%s);",
		d.table, strings.Join(createColumns, ", "))
}

func (c *column) sqlType(flavor csql.Flavor) string {
	switch c.typ {
	case columnTypeInteger:
		if flavor == csql.FlavorSQLite {
			return "integer"
		}
		return "bigint"
	case columnTypeReal:
		if flavor == csql.FlavorSQLite {
			return "real"
		}
		return "double precision"
	case columnTypeBoolean:
		return "boolean"
	default:
		return "varchar"
	}
}

// jsonSchema returns the JSON schema create-request bodies are validated
// against: exactly the descriptor's columns, no id, no extras.
func (d *descriptor) jsonSchema() string {
	properties := map[string]interface{}{}
	required := []string{}
	for _, col := range d.columns {
		jsonType := map[columnType]string{
			columnTypeInteger: "integer",
			columnTypeReal:    "number",
			columnTypeText:    "string",
			columnTypeBoolean: "boolean",
		}[col.typ]
		if col.nullable {
			properties[col.name] = map[string]interface{}{"type": []string{jsonType, "null"}}
		} else {
			properties[col.name] = map[string]interface{}{"type": jsonType}
		}
		if col.required {
			required = append(required, col.name)
		}
	}
	sort.Strings(required)
	jsonData, _ := json.Marshal(map[string]interface{}{
		"$id":                  d.table,
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	})
	return string(jsonData)
}

// scanDestinations returns scan targets for one row in selectList order,
// plus the function assembling the scanned values into a record.
func (d *descriptor) scanDestinations() ([]interface{}, func() Record) {
	values := make([]interface{}, len(d.columns)+1)
	values[0] = new(int64)
	for i, col := range d.columns {
		switch col.typ {
		case columnTypeInteger:
			values[i+1] = &sql.NullInt64{}
		case columnTypeReal:
			values[i+1] = &sql.NullFloat64{}
		case columnTypeBoolean:
			values[i+1] = &sql.NullBool{}
		default:
			values[i+1] = &sql.NullString{}
		}
	}
	build := func() Record {
		record := Record{primaryKey: *(values[0].(*int64))}
		for i, col := range d.columns {
			switch v := values[i+1].(type) {
			case *sql.NullInt64:
				if v.Valid {
					record[col.name] = v.Int64
				} else {
					record[col.name] = nil
				}
			case *sql.NullFloat64:
				if v.Valid {
					record[col.name] = v.Float64
				} else {
					record[col.name] = nil
				}
			case *sql.NullBool:
				if v.Valid {
					record[col.name] = v.Bool
				} else {
					record[col.name] = nil
				}
			case *sql.NullString:
				if v.Valid {
					record[col.name] = v.String
				} else {
					record[col.name] = nil
				}
			}
		}
		return record
	}
	return values, build
}

// convertValue converts a decoded JSON value into the driver value for
// this column. JSON numbers arrive as float64.
func (c *column) convertValue(raw interface{}) (interface{}, error) {
	if raw == nil {
		if c.nullable {
			return nil, nil
		}
		return nil, core.NewError(core.KindInvalidContent,
			"Column "+c.name+" must not be null")
	}
	mismatch := core.NewError(core.KindInvalidContent,
		"Invalid value for column "+c.name)
	switch c.typ {
	case columnTypeInteger:
		// decoded JSON numbers arrive as float64, operator callers may
		// pass Go integers directly
		switch v := raw.(type) {
		case float64:
			if v != float64(int64(v)) {
				return nil, mismatch
			}
			return int64(v), nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		}
		return nil, mismatch
	case columnTypeReal:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
		return nil, mismatch
	case columnTypeBoolean:
		v, ok := raw.(bool)
		if !ok {
			return nil, mismatch
		}
		return v, nil
	default:
		s, ok := raw.(string)
		if !ok {
			return nil, mismatch
		}
		return s, nil
	}
}

// filterCondition builds the WHERE condition for searching this column
// with a raw query-parameter value, starting at placeholder $argIndex.
// The matching rule depends on the column's semantic type: case-insensitive
// prefix match for text, a human-readable vocabulary for booleans, exact
// equality for everything else.
func (c *column) filterCondition(value string, argIndex int) (string, []interface{}) {
	placeholder := "$" + strconv.Itoa(argIndex)
	switch c.typ {
	case columnTypeText:
		return "lower(" + c.name + ") LIKE " + placeholder + " ESCAPE '\\'",
			[]interface{}{escapeLike(strings.ToLower(value)) + "%"}
	case columnTypeBoolean:
		switch strings.ToLower(value) {
		case "true", "t", "yes", "y":
			return c.name + " = " + placeholder, []interface{}{true}
		case "false", "f", "no", "n":
			return c.name + " = " + placeholder, []interface{}{false}
		default:
			// bad input, but still a valid query: matches nothing
			return "1=0", nil
		}
	case columnTypeReal:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "1=0", nil
		}
		return c.name + " = " + placeholder, []interface{}{f}
	default:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "1=0", nil
		}
		return c.name + " = " + placeholder, []interface{}{n}
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

package backend

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/potionlabs/potionshop/core"
)

// queryTranslator turns the raw query parameters of a collection GET
// into one SELECT statement. Every parameter must name a column of the
// resource (or "limit"), may appear at most once, and contributes one
// condition; all conditions are combined with AND.
type queryTranslator struct {
	descriptor *descriptor
}

func (t queryTranslator) translate(params url.Values) (string, []interface{}, error) {
	conditions := []string{}
	args := []interface{}{}
	limit := int64(-1)

	// deterministic condition order regardless of the raw query string
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	// the full set of offending names, not just the first
	unsupported := []string{}
	for _, name := range names {
		if !t.descriptor.allowedParams[strings.ToLower(name)] {
			unsupported = append(unsupported, name)
		}
	}
	if len(unsupported) > 0 {
		label := "Parameter " + unsupported[0]
		if len(unsupported) > 1 {
			label = "Parameters " + strings.Join(unsupported, ", ")
		}
		return "", nil, core.NewError(core.KindUnsupportedParameter,
			fmt.Sprintf("%s not supported. Must be one of %s",
				label, t.allowedList()))
	}

	for _, name := range names {
		values := params[name]
		lowered := strings.ToLower(name)
		if len(values) > 1 {
			return "", nil, core.NewError(core.KindUnsupportedParameter,
				"Parameter "+name+" given more than once")
		}
		value := values[0]
		if lowered == "limit" {
			if value == "" {
				// an empty limit is simply ignored
				continue
			}
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return "", nil, core.NewError(core.KindInvalidLimit,
					"Invalid value for 'limit' parameter.")
			}
			limit = n
			continue
		}
		if lowered == primaryKey {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				conditions = append(conditions, "1=0")
				continue
			}
			args = append(args, n)
			conditions = append(conditions,
				primaryKey+" = $"+strconv.Itoa(len(args)))
			continue
		}
		col := t.descriptor.column(lowered)
		condition, conditionArgs := col.filterCondition(value, len(args)+1)
		conditions = append(conditions, condition)
		args = append(args, conditionArgs...)
	}

	query := fmt.Sprintf("SELECT %s FROM \"%s\"",
		t.descriptor.selectList(), t.descriptor.table)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + primaryKey
	if limit >= 0 {
		args = append(args, limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return query + ";", args, nil
}

func (t queryTranslator) allowedList() string {
	names := make([]string, 0, len(t.descriptor.allowedParams))
	for name := range t.descriptor.allowedParams {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// List returns the rows matching the given collection query parameters.
func (o *Operator) List(ctx context.Context, params url.Values) ([]Record, error) {
	query, args, err := queryTranslator{o.descriptor}.translate(params)
	if err != nil {
		return nil, err
	}
	return o.queryRecords(ctx, query, args...)
}

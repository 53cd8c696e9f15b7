package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/potionlabs/potionshop/core"
	"github.com/potionlabs/potionshop/core/csql"
	"github.com/potionlabs/potionshop/core/logger"
)

// Record is one row of a resource as handed over the API: column names
// to values, including the generated "id".
type Record map[string]interface{}

// Operator reads and writes the rows of a single resource. All queries
// except search filters are precomputed when the backend is created.
type Operator struct {
	db         *csql.DB
	descriptor *descriptor

	selectAllQuery  string
	selectByIDQuery string
	insertQuery     string
	deleteQuery     string
}

func newOperator(db *csql.DB, d *descriptor) *Operator {
	insertColumns := make([]string, len(d.columns))
	insertPlaceholders := make([]string, len(d.columns))
	for i, col := range d.columns {
		insertColumns[i] = col.name
		insertPlaceholders[i] = "$" + strconv.Itoa(i+1)
	}
	return &Operator{
		db:         db,
		descriptor: d,
		selectAllQuery: fmt.Sprintf("SELECT %s FROM \"%s\" ORDER BY %s;",
			d.selectList(), d.table, primaryKey),
		selectByIDQuery: fmt.Sprintf("SELECT %s FROM \"%s\" WHERE %s = $1;",
			d.selectList(), d.table, primaryKey),
		insertQuery: fmt.Sprintf("INSERT INTO \"%s\" (%s) VALUES (%s) RETURNING %s;",
			d.table, strings.Join(insertColumns, ", "),
			strings.Join(insertPlaceholders, ", "), d.selectList()),
		deleteQuery: fmt.Sprintf("DELETE FROM \"%s\" WHERE %s = $1;",
			d.table, primaryKey),
	}
}

// conflict maps a driver constraint violation to the fixed
// client-facing message. The driver error goes to the log only;
// constraint and table names never reach a response body.
func conflict(ctx context.Context, err error) error {
	logger.FromContext(ctx).WithError(err).Warnln("constraint violation")
	return core.NewError(core.KindStorageConflict,
		"Error occurred while updating database")
}

// Resource returns the resource path this operator serves.
func (o *Operator) Resource() string {
	return o.descriptor.resource
}

// IsEmpty reports whether the resource has no rows at all.
func (o *Operator) IsEmpty(ctx context.Context) (bool, error) {
	query := fmt.Sprintf("SELECT %s FROM \"%s\" LIMIT 1;", primaryKey, o.descriptor.table)
	var id int64
	err := o.db.QueryRowContext(ctx, query).Scan(&id)
	if err == csql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// GetAll returns all rows ordered by id.
func (o *Operator) GetAll(ctx context.Context) ([]Record, error) {
	return o.queryRecords(ctx, o.selectAllQuery)
}

// GetByID returns the single row with the given id, or an error of kind
// KindNotFound.
func (o *Operator) GetByID(ctx context.Context, id int64) (Record, error) {
	values, build := o.descriptor.scanDestinations()
	err := o.db.QueryRowContext(ctx, o.selectByIDQuery, id).Scan(values...)
	if err == csql.ErrNoRows {
		return nil, core.NewError(core.KindNotFound,
			o.descriptor.resource+" "+strconv.FormatInt(id, 10)+" not found")
	}
	if err != nil {
		return nil, err
	}
	return build(), nil
}

// FilterByColumnExact returns the rows where the column equals the given
// driver value. The column must exist; unlike a search filter there is
// no type coercion.
func (o *Operator) FilterByColumnExact(ctx context.Context, column string, value interface{}) ([]Record, error) {
	if column != primaryKey && o.descriptor.column(column) == nil {
		return nil, core.NewError(core.KindUnknownColumn,
			"Unknown column "+column+" on "+o.descriptor.resource)
	}
	query := fmt.Sprintf("SELECT %s FROM \"%s\" WHERE %s = $1 ORDER BY %s;",
		o.descriptor.selectList(), o.descriptor.table, column, primaryKey)
	return o.queryRecords(ctx, query, value)
}

// FilterByColumn returns the rows matching a raw search-parameter value,
// applying the type-dispatched matching rules of the column.
func (o *Operator) FilterByColumn(ctx context.Context, column, value string) ([]Record, error) {
	col := o.descriptor.column(column)
	if col == nil {
		return nil, core.NewError(core.KindUnknownColumn,
			"Unknown column "+column+" on "+o.descriptor.resource)
	}
	condition, args := col.filterCondition(value, 1)
	query := fmt.Sprintf("SELECT %s FROM \"%s\" WHERE %s ORDER BY %s;",
		o.descriptor.selectList(), o.descriptor.table, condition, primaryKey)
	return o.queryRecords(ctx, query, args...)
}

// Create inserts the given records as one atomic batch and returns them
// as stored, including the generated ids. If any insert fails, none is
// kept.
func (o *Operator) Create(ctx context.Context, records []Record) ([]Record, error) {
	converted := make([][]interface{}, len(records))
	for i, record := range records {
		args, err := o.insertArgs(record)
		if err != nil {
			return nil, err
		}
		converted[i] = args
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	result := make([]Record, len(records))
	for i, args := range converted {
		values, build := o.descriptor.scanDestinations()
		err = tx.QueryRowContext(ctx, o.insertQuery, args...).Scan(values...)
		if err != nil {
			tx.Rollback()
			if csql.IsConstraintViolation(err) {
				return nil, conflict(ctx, err)
			}
			return nil, err
		}
		result[i] = build()
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateByID applies a partial update to the row with the given id.
// Patch keys must be existing columns; the id cannot be changed.
func (o *Operator) UpdateByID(ctx context.Context, id int64, patch Record) error {
	assignments := make([]string, 0, len(patch))
	args := make([]interface{}, 0, len(patch)+1)
	// deterministic order for the generated statement
	for _, col := range o.descriptor.columns {
		raw, ok := patch[col.name]
		if !ok {
			continue
		}
		value, err := col.convertValue(raw)
		if err != nil {
			return err
		}
		args = append(args, value)
		assignments = append(assignments, col.name+" = $"+strconv.Itoa(len(args)))
	}
	for key := range patch {
		if key == primaryKey {
			return core.NewError(core.KindInvalidContent,
				"Column id cannot be updated")
		}
		if o.descriptor.column(key) == nil {
			return core.NewError(core.KindUnknownColumn,
				"Unknown column "+key+" on "+o.descriptor.resource)
		}
	}
	if len(assignments) == 0 {
		// nothing to change, but the row must exist
		_, err := o.GetByID(ctx, id)
		return err
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE \"%s\" SET %s WHERE %s = $%d;",
		o.descriptor.table, strings.Join(assignments, ", "),
		primaryKey, len(args))

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		tx.Rollback()
		if csql.IsConstraintViolation(err) {
			return conflict(ctx, err)
		}
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if count == 0 {
		tx.Rollback()
		return core.NewError(core.KindNotFound,
			o.descriptor.resource+" "+strconv.FormatInt(id, 10)+" not found")
	}
	return tx.Commit()
}

// DeleteByID removes the row with the given id. Deleting a row that is
// still referenced by another resource fails with KindStorageConflict.
func (o *Operator) DeleteByID(ctx context.Context, id int64) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, o.deleteQuery, id)
	if err != nil {
		tx.Rollback()
		if csql.IsConstraintViolation(err) {
			return conflict(ctx, err)
		}
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if count == 0 {
		tx.Rollback()
		return core.NewError(core.KindNotFound,
			o.descriptor.resource+" "+strconv.FormatInt(id, 10)+" not found")
	}
	return tx.Commit()
}

func (o *Operator) insertArgs(record Record) ([]interface{}, error) {
	args := make([]interface{}, len(o.descriptor.columns))
	for i, col := range o.descriptor.columns {
		raw, ok := record[col.name]
		if !ok {
			if col.hasDefault {
				args[i] = col.defaultValue
				continue
			}
			args[i] = nil
			continue
		}
		value, err := col.convertValue(raw)
		if err != nil {
			return nil, err
		}
		args[i] = value
	}
	return args, nil
}

func (o *Operator) queryRecords(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Record{}
	for rows.Next() {
		values, build := o.descriptor.scanDestinations()
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		result = append(result, build())
	}
	return result, rows.Err()
}

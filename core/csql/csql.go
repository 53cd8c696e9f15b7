/*Package csql provides database access for the potion shop backend.

The backend speaks plain database/sql; this package selects the driver and
knows how to classify driver-specific errors. Two flavors are supported:
PostgreSQL via lib/pq for production, and SQLite via mattn/go-sqlite3 for
tests and small single-file deployments. The generated SQL sticks to the
common subset of both dialects ($n placeholders, RETURNING clauses).
*/
package csql

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Flavor identifies the SQL dialect of a DB
type Flavor string

// the supported database flavors
const (
	FlavorPostgres Flavor = "postgres"
	FlavorSQLite   Flavor = "sqlite"
)

// DB encapsulates a standard sql.DB with its flavor
type DB struct {
	*sql.DB
	Flavor Flavor
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

// OpenPostgres opens a postgres database. It panics if the database
// is not reachable.
func OpenPostgres(dataSourceName string) *DB {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		panic(err)
	}
	if err := db.Ping(); err != nil {
		panic(err)
	}
	return &DB{DB: db, Flavor: FlavorPostgres}
}

// OpenSQLite opens a sqlite database with foreign key enforcement
// enabled. It panics if the database cannot be opened.
//
// An in-memory database is restricted to a single connection, otherwise
// every pool connection would see its own empty database.
func OpenSQLite(dataSourceName string) *DB {
	dsn := dataSourceName
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on"
	} else {
		dsn += "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		panic(err)
	}
	if strings.Contains(dataSourceName, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		panic(err)
	}
	return &DB{DB: db, Flavor: FlavorSQLite}
}

// IsConstraintViolation reports whether err is a uniqueness or foreign-key
// rejection from the storage engine, for either flavor.
func IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 23 is integrity_constraint_violation
		return pqErr.Code.Class() == "23"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

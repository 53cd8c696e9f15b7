/*Package registry provides a persistent registry of objects in a SQL database

The package uses JSON to serialize the data. The backend stores its
active resource configuration here, so a running system can be asked
what it was built from.
*/
package registry

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/potionlabs/potionshop/core/csql"
)

// New creates a new registry on the specified database. It panics if
// the registry table cannot be created.
func New(db *csql.DB) Registry {
	valueType := "json"
	if db.Flavor == csql.FlavorSQLite {
		valueType = "text"
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS "_registry_"
(key varchar NOT NULL,
value ` + valueType + ` NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		panic(err)
	}
	return Registry{db: db}
}

// Registry provides a persistent registry of objects in a sql database.
type Registry struct {
	db *csql.DB
}

// Accessor is an accessor with optional prefix
type Accessor struct {
	Prefix   string
	Registry Registry
}

// Accessor returns a registry accessor with prefix
func (r Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

func (r Accessor) prefixed(key string) string {
	if len(r.Prefix) > 0 {
		return r.Prefix + ":" + key
	}
	return key
}

// Read reads a value from the registry. It returns the
// time when the value was written, or a zero timestamp
// if there is no value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Read(key string, value interface{}) (time.Time, error) {
	var (
		rawValue  string
		timestamp time.Time
	)
	key = r.prefixed(key)
	err := r.Registry.db.QueryRow(
		`SELECT value, timestamp FROM "_registry_" WHERE key=$1;`,
		key).Scan(&rawValue, &timestamp)
	if err == csql.ErrNoRows {
		return timestamp, nil
	}
	if err != nil {
		return timestamp, fmt.Errorf("cannot read key '%s': %s", key, err.Error())
	}
	err = json.Unmarshal([]byte(rawValue), &value)

	return timestamp, err
}

// Write writes a value into the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Write(key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	key = r.prefixed(key)
	now := time.Now().UTC()
	res, err := r.Registry.db.Exec(
		`INSERT INTO "_registry_"(key,value,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,timestamp=$3;`,
		key, string(body), now)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write key %s", key)
	}
	return nil
}

// Delete deletes a value from the registry.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:"
func (r Accessor) Delete(key string) error {
	key = r.prefixed(key)
	_, err := r.Registry.db.Exec(
		`DELETE FROM "_registry_" WHERE key=$1;`, key)
	return err
}

// Read reads a value from the registry without prefix
func (r Registry) Read(key string, value interface{}) (time.Time, error) {
	return Accessor{Registry: r}.Read(key, value)
}

// Write writes a value into the registry without prefix
func (r Registry) Write(key string, value interface{}) error {
	return Accessor{Registry: r}.Write(key, value)
}

// Delete deletes a value from the registry without prefix
func (r Registry) Delete(key string) error {
	return Accessor{Registry: r}.Delete(key)
}

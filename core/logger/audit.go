package logger

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/potionlabs/potionshop/core/csql"
)

// AuditEntry carries everything the audit trail records about a rejected
// request. Bodies are raw JSON as seen on the wire.
type AuditEntry struct {
	Level          string
	Message        string
	RequestRoute   string
	RequestHeaders map[string][]string
	RequestBody    []byte
	ResponseStatus string
	ResponseBody   []byte
}

// DBAuditLog persists audit entries to the runtime_logs table and echoes
// them through the request logger. It is constructed once at startup and
// passed by reference to the backend.
type DBAuditLog struct {
	db          *csql.DB
	insertQuery string
}

// NewDBAuditLog creates the runtime_logs table if it does not exist yet
// and returns a sink writing to it.
func NewDBAuditLog(db *csql.DB) (*DBAuditLog, error) {
	jsonType := "json"
	idColumn := "log_id bigserial PRIMARY KEY"
	if db.Flavor == csql.FlavorSQLite {
		jsonType = "text"
		idColumn = "log_id integer PRIMARY KEY AUTOINCREMENT"
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runtime_logs (` +
		idColumn + `,
created_at timestamp NOT NULL,
level varchar,
trace varchar,
msg varchar,
request_route varchar,
request_headers ` + jsonType + `,
request_body ` + jsonType + `,
response_status varchar,
response_body ` + jsonType + `);`)
	if err != nil {
		return nil, err
	}
	return &DBAuditLog{
		db: db,
		insertQuery: `INSERT INTO runtime_logs ` +
			`(created_at, level, msg, request_route, request_headers, request_body, response_status, response_body) ` +
			`VALUES($1,$2,$3,$4,$5,$6,$7,$8);`,
	}, nil
}

// Record writes one audit entry. Failures to write the audit trail are
// logged but never surfaced to the client.
func (a *DBAuditLog) Record(ctx context.Context, entry AuditEntry) {
	rlog := FromContext(ctx)
	rlog.WithFields(map[string]interface{}{
		"request_route":   entry.RequestRoute,
		"response_status": entry.ResponseStatus,
	}).Warning(entry.Message)

	headersJSON, _ := json.Marshal(entry.RequestHeaders)
	_, err := a.db.ExecContext(ctx, a.insertQuery,
		time.Now().UTC(), entry.Level, entry.Message, entry.RequestRoute,
		string(headersJSON), nullableBody(entry.RequestBody),
		entry.ResponseStatus, nullableBody(entry.ResponseBody))
	if err != nil {
		rlog.WithError(err).Error("cannot save audit log entry")
	}
}

func nullableBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	return string(body)
}

package sqlstore

import (
	_ "embed"
	"strings"

	"cdsfeeder/lib/configutil/sqldb"
)

//go:embed schema.sql
var Schema string

//go:embed schema_postgres.sql
var SchemaPostgres string

// statements splits a schema into its statements, some drivers only accept
// one statement per Exec.
func statements(dialect sqldb.Dialect) []string {
	schema := Schema
	if dialect == sqldb.DialectPostgres {
		schema = SchemaPostgres
	}
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err for a structured log entry: the code, every link of
// the chain and, for database failures, the postgres diagnostics. Both pgx
// and lib/pq errors are recognised since migrations run on lib/pq.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	var chain []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	fields := map[string]any{
		"error_code":  string(CodeOf(err)),
		"error_chain": chain,
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		putPG(fields, pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail)
	case stdErrors.As(err, &pqErr):
		putPG(fields, string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail)
	}
	return fields
}

func putPG(fields map[string]any, code, constraint, table, detail string) {
	fields["pg_code"] = code
	for k, v := range map[string]string{"pg_constraint": constraint, "pg_table": table, "pg_detail": detail} {
		if v != "" {
			fields[k] = v
		}
	}
}

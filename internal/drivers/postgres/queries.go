package postgres

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// queries holds the statements for one table.
type queries struct {
	table  string
	schema string
	get    string
	add    string
	set    string
	exists string
	del    string
	expire string
	incr   string
}

// live is the predicate for an unexpired row of alias t.
const live = "(t.expires_at IS NULL OR t.expires_at > now())"

// expired is its negation, used inside ON CONFLICT updates.
const expired = "(t.expires_at IS NOT NULL AND t.expires_at <= now())"

func newQueries(table string) (queries, error) {
	if !tableName.MatchString(table) {
		return queries{}, fmt.Errorf("postgres: invalid table name %q", table)
	}
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()

	return queries{
		table: table,
		schema: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMPTZ
		)`, ident),
		get:    fmt.Sprintf(`SELECT t.value FROM %s AS t WHERE t.key = $1 AND %s`, ident, live),
		exists: fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s AS t WHERE t.key = $1 AND %s)`, ident, live),
		// an add over an expired row replaces it
		add: fmt.Sprintf(`INSERT INTO %s AS t (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = NULL
			WHERE %s`, ident, expired),
		set: fmt.Sprintf(`INSERT INTO %s AS t (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = NULL`, ident),
		del: fmt.Sprintf(`DELETE FROM %s AS t WHERE t.key = $1 RETURNING %s`, ident, live),
		expire: fmt.Sprintf(`UPDATE %s AS t SET expires_at = now() + $2::bigint * interval '1 microsecond'
			WHERE t.key = $1 AND %s`, ident, live),
		incr: fmt.Sprintf(`INSERT INTO %s AS t (key, value) VALUES ($1, ($2::bigint)::text)
			ON CONFLICT (key) DO UPDATE SET
				value = ((CASE WHEN %s THEN 0 ELSE t.value::bigint END) + $2::bigint)::text,
				expires_at = CASE WHEN %s THEN NULL ELSE t.expires_at END
			RETURNING t.value::bigint`, ident, expired, expired),
	}, nil
}

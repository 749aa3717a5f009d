package mirror

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the production database and
// the embedded test database.
type Dialect int

const (
	// Postgres uses $n placeholders and information_schema.
	Postgres Dialect = iota
	// SQLite uses ? placeholders and sqlite_master.
	SQLite
)

// String returns the database/sql driver name for the dialect.
func (d Dialect) String() string {
	if d == SQLite {
		return "sqlite"
	}
	return "pgx"
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) tableExistsQuery() string {
	if d == SQLite {
		return `SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = ?`
	}
	return `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = ?)`
}

package orm

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect abstracts SQL differences between database engines.
type Dialect interface {
	// Name returns the engine name: "mysql", "postgres" or "sqlite".
	Name() string

	// Placeholder returns the bind parameter placeholder for the given
	// 1-based index. MySQL and SQLite return "?" regardless of index;
	// PostgreSQL returns "$1", "$2", etc.
	Placeholder(index int) string

	// QuoteIdent quotes an identifier (table name, column name, alias) to
	// safely handle SQL reserved words. MySQL uses backticks; PostgreSQL
	// and SQLite use double quotes.
	QuoteIdent(name string) string

	// UseReturning reports whether INSERT should use a RETURNING clause
	// to retrieve the auto-generated primary key (PostgreSQL) rather
	// than relying on LastInsertId (MySQL, SQLite).
	UseReturning() bool

	// ReturningClause returns the RETURNING clause appended to INSERT
	// statements. Returns an empty string for dialects that do not
	// use RETURNING.
	ReturningClause(pk string) string

	// SupportsFullOuterJoin reports whether FULL OUTER JOIN is available.
	// Queries against engines without it emulate the join with UNION.
	SupportsFullOuterJoin() bool

	// ColumnType returns the column definition used by CREATE TABLE for a
	// field of type t. Primary keys of type Int are auto-incrementing.
	ColumnType(t FieldType, primaryKey bool) string
}

// MySQL is the Dialect for MySQL / MariaDB.
var MySQL Dialect = mysqlDialect{}

// PostgreSQL is the Dialect for PostgreSQL.
var PostgreSQL Dialect = postgresDialect{}

// SQLite is the Dialect for SQLite 3.39 or later.
var SQLite Dialect = sqliteDialect{}

// DialectFor returns the Dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return PostgreSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("orm: unknown dialect %q", name)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string                    { return "mysql" }
func (mysqlDialect) Placeholder(_ int) string        { return "?" }
func (mysqlDialect) QuoteIdent(name string) string   { return "`" + name + "`" }
func (mysqlDialect) UseReturning() bool              { return false }
func (mysqlDialect) ReturningClause(_ string) string { return "" }
func (mysqlDialect) SupportsFullOuterJoin() bool     { return false }

func (mysqlDialect) ColumnType(t FieldType, primaryKey bool) string {
	switch t {
	case Int:
		if primaryKey {
			return "BIGINT AUTO_INCREMENT PRIMARY KEY"
		}
		return "BIGINT"
	case String:
		return withPK("VARCHAR(255)", primaryKey)
	case Text:
		return "TEXT"
	case Float:
		return "DOUBLE"
	case Bool:
		return "BOOLEAN"
	case Time:
		return "DATETIME(6)"
	}
	return "TEXT"
}

type postgresDialect struct{}

func (postgresDialect) Name() string                     { return "postgres" }
func (postgresDialect) Placeholder(index int) string     { return fmt.Sprintf("$%d", index) }
func (postgresDialect) QuoteIdent(name string) string    { return `"` + name + `"` }
func (postgresDialect) UseReturning() bool               { return true }
func (postgresDialect) ReturningClause(pk string) string { return ` RETURNING "` + pk + `"` }
func (postgresDialect) SupportsFullOuterJoin() bool      { return true }

func (postgresDialect) ColumnType(t FieldType, primaryKey bool) string {
	switch t {
	case Int:
		if primaryKey {
			return "BIGSERIAL PRIMARY KEY"
		}
		return "BIGINT"
	case String:
		return withPK("VARCHAR(255)", primaryKey)
	case Text:
		return "TEXT"
	case Float:
		return "DOUBLE PRECISION"
	case Bool:
		return "BOOLEAN"
	case Time:
		return "TIMESTAMPTZ"
	}
	return "TEXT"
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string                    { return "sqlite" }
func (sqliteDialect) Placeholder(_ int) string        { return "?" }
func (sqliteDialect) QuoteIdent(name string) string   { return `"` + name + `"` }
func (sqliteDialect) UseReturning() bool              { return false }
func (sqliteDialect) ReturningClause(_ string) string { return "" }
func (sqliteDialect) SupportsFullOuterJoin() bool     { return true }

func (sqliteDialect) ColumnType(t FieldType, primaryKey bool) string {
	switch t {
	case Int:
		return withPK("INTEGER", primaryKey)
	case String, Text:
		return withPK("TEXT", primaryKey)
	case Float:
		return "REAL"
	case Bool:
		return "BOOLEAN"
	case Time:
		return "DATETIME"
	}
	return "TEXT"
}

func withPK(typ string, primaryKey bool) string {
	if primaryKey {
		return typ + " PRIMARY KEY"
	}
	return typ
}

// limitClause renders LIMIT/OFFSET. Engines that reject a bare OFFSET get
// the largest LIMIT they accept.
func limitClause(d Dialect, limit, offset *int) string {
	var b strings.Builder
	switch {
	case limit != nil:
		b.WriteString(" LIMIT " + strconv.Itoa(*limit))
	case offset != nil && d.Name() == "mysql":
		b.WriteString(" LIMIT 18446744073709551615")
	case offset != nil && d.Name() == "sqlite":
		b.WriteString(" LIMIT -1")
	}
	if offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*offset))
	}
	return b.String()
}

// rewritePlaceholders converts ? to dialect-specific placeholders ($1, $2, …).
func rewritePlaceholders(d Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	idx := 1
	for i := range len(query) {
		if query[i] == '?' {
			b.WriteString(d.Placeholder(idx))
			idx++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

package orm

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
)

// ErrNotFound is returned when a query expects exactly one row but finds none.
var ErrNotFound = errors.New("orm: not found")

// ErrSessionClosed is returned by every Session operation after Close.
var ErrSessionClosed = errors.New("orm: session closed")

// ErrCyclicReference is wrapped by the IntegrityError returned when pending
// records reference each other through a self foreign key in a loop.
var ErrCyclicReference = errors.New("orm: cyclic self reference")

// ConfigurationError reports an invalid schema declaration. It is returned
// while registering or freezing a Registry and is not recoverable at run time.
type ConfigurationError struct {
	Type     string
	Relation string
	Msg      string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Type == "":
		return "orm: configuration: " + e.Msg
	case e.Relation == "":
		return fmt.Sprintf("orm: configuration: %s: %s", e.Type, e.Msg)
	default:
		return fmt.Sprintf("orm: configuration: %s.%s: %s", e.Type, e.Relation, e.Msg)
	}
}

func configErrorf(typ, rel, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Type: typ, Relation: rel, Msg: fmt.Sprintf(format, args...)}
}

// AccessError is returned when a relation is read in a way its load policy
// forbids: an explicit-only relation read without an eager directive, or a
// write-only relation read at all.
type AccessError struct {
	Type     string
	Relation string
	Policy   LoadPolicy
}

func (e *AccessError) Error() string {
	if e.Policy == WriteOnly {
		return fmt.Sprintf("orm: %s.%s is write-only; use Append or Remove", e.Type, e.Relation)
	}
	return fmt.Sprintf("orm: %s.%s is %s; load it with Eager(%q)", e.Type, e.Relation, e.Policy, e.Relation)
}

// IntegrityError wraps a constraint violation raised while flushing.
type IntegrityError struct {
	Table string
	Op    string
	Err   error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("orm: integrity violation on %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// ConnectionError wraps a failure to reach the database.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("orm: connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// classify converts a driver error into one of the typed errors above.
// Errors that fit neither class are wrapped with the operation and table.
func classify(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ie *IntegrityError
		ce *ConnectionError
	)
	if errors.As(err, &ie) || errors.As(err, &ce) {
		return err
	}
	switch {
	case IsConnectionError(err):
		return &ConnectionError{Op: op, Err: err}
	case IsConstraintError(err):
		return &IntegrityError{Table: table, Op: op, Err: err}
	}
	if table == "" {
		return fmt.Errorf("orm: %s: %w", op, err)
	}
	return fmt.Errorf("orm: %s %s: %w", op, table, err)
}

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlColumnCannotBeNull     = 1048
	mysqlForeignKeyParent       = 1451
	mysqlForeignKeyChild        = 1452
	mysqlCheckConstraintViolate = 3819
)

// sqliteConstraint is the primary result code SQLITE_CONSTRAINT.
const sqliteConstraint = 19

// IsConstraintError reports whether err is a database constraint violation
// (unique, foreign key, not null or check).
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlColumnCannotBeNull, mysqlForeignKeyParent,
			mysqlForeignKeyChild, mysqlCheckConstraintViolate:
			return true
		}
		return string(myErr.SQLState[:2]) == "23"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqliteConstraint
	}

	// Fallback to string matching for drivers that expose no codes.
	return containsAny(err.Error(),
		"constraint failed",               // SQLite
		"violates foreign key constraint", // PostgreSQL
		"violates unique constraint",      // PostgreSQL
		"violates not-null constraint",    // PostgreSQL
		"Error 1062",                      // MySQL
		"Error 1452",                      // MySQL
	)
}

// IsConnectionError reports whether err means the database could not be
// reached or the connection was lost.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// Postgres unique detail: "Key (entity_type, id)=(server, s1) already exists."
	reKeyColumns = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// Postgres FK detail when the parent row is deleted while children reference it.
	reReferencedFrom = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	// Postgres FK detail when a child names a parent that does not exist.
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
	// SQLite: "UNIQUE constraint failed: entities.entity_type, entities.id".
	reSQLiteColumns = regexp.MustCompile(`(?:UNIQUE|NOT NULL|CHECK) constraint failed: ([A-Za-z0-9_.]+)`)
)

type violation int

const (
	violationNone violation = iota
	violationUnique
	violationForeignKey
	violationNotNull
	violationCheck
)

// constraintError is the driver-neutral view of a constraint failure.
type constraintError struct {
	kind  violation
	table string
	field string
	// referenced marks FK failures from removing a referenced row, missing those from
	// pointing at an absent parent. SQLite only reports the former, through RESTRICT.
	referenced bool
	missing    bool
}

// MapDBError maps Postgres (pgx) and SQLite (modernc) errors to AppErrors:
// missing rows are NotFound, unique violations Conflict, FK violations ForeignKey,
// NOT NULL and CHECK violations Validation, and context errors Timeout or Canceled.
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "database operation timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "database operation canceled", Cause: err}
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, sql.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		c, ok := fromPg(pgErr)
		if !ok {
			return &AppError{Code: ErrCodeInternal, Message: "database error", Cause: err}
		}
		return c.appError(err)
	}

	var sqErr *msqlite.Error
	if errors.As(err, &sqErr) {
		if c, ok := fromSQLite(sqErr); ok {
			return c.appError(err)
		}
	}
	return err
}

func fromPg(pgErr *pgconn.PgError) (constraintError, bool) {
	c := constraintError{table: pgErr.TableName, field: pgErr.ColumnName}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		c.kind = violationUnique
		if c.field == "" {
			if m := reKeyColumns.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
				c.field = lastColumn(m[1])
			}
		}
	case pgerrcode.ForeignKeyViolation:
		c.kind = violationForeignKey
		c.referenced = reReferencedFrom.MatchString(pgErr.Detail)
		c.missing = reNotPresent.MatchString(pgErr.Detail)
	case pgerrcode.NotNullViolation:
		c.kind = violationNotNull
	case pgerrcode.CheckViolation:
		c.kind = violationCheck
		if c.field == "" {
			c.field = fieldFromConstraint(pgErr.ConstraintName, pgErr.TableName)
		}
	default:
		return c, false
	}
	return c, true
}

func fromSQLite(e *msqlite.Error) (constraintError, bool) {
	var c constraintError
	switch e.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		c.kind = violationUnique
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		c.kind = violationForeignKey
	case sqlite3.SQLITE_CONSTRAINT_TRIGGER:
		// ON DELETE RESTRICT fires as a trigger constraint with the FK message.
		if !strings.Contains(e.Error(), "FOREIGN KEY constraint failed") {
			return c, false
		}
		c.kind = violationForeignKey
		c.referenced = true
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		c.kind = violationNotNull
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		c.kind = violationCheck
	default:
		return c, false
	}
	if m := reSQLiteColumns.FindStringSubmatch(e.Error()); len(m) == 2 {
		table, col, found := strings.Cut(m[1], ".")
		if found {
			c.table, c.field = table, col
		} else if c.kind == violationCheck {
			c.field = fieldFromConstraint(m[1], "")
		}
	}
	return c, true
}

func (c constraintError) appError(cause error) *AppError {
	e := &AppError{Field: c.field, Cause: cause}
	switch c.kind {
	case violationUnique:
		e.Code = ErrCodeConflict
		e.Message = describeTable(c.table) + " already exists"
		// Composite keys are not a single input field.
		if c.field == "id" || c.field == "entity_type" {
			e.Field = ""
		}
	case violationForeignKey:
		e.Code = ErrCodeForeignKey
		e.Field = ""
		switch {
		case c.referenced:
			e.Message = describeTable(c.table) + " still has dependents"
		case c.missing:
			e.Message = "referenced parent does not exist"
		default:
			e.Message = "foreign key constraint failed"
		}
	case violationNotNull:
		e.Code = ErrCodeValidation
		e.Message = "required field is missing"
	default:
		e.Code = ErrCodeValidation
		e.Message = "invalid value"
	}
	return e
}

func describeTable(table string) string {
	switch strings.ToLower(strings.TrimSpace(table)) {
	case "entities":
		return "entity"
	case "jobs":
		return "job"
	case "":
		return "record"
	default:
		return strings.ReplaceAll(strings.TrimSuffix(table, "s"), "_", " ")
	}
}

func lastColumn(cols string) string {
	parts := strings.Split(cols, ",")
	return strings.TrimSpace(parts[len(parts)-1])
}

// fieldFromConstraint reads "<table>_<field>_check" style names. Names that do not
// follow the pattern yield "".
func fieldFromConstraint(name, table string) string {
	name = strings.TrimSpace(name)
	if table != "" {
		name = strings.TrimPrefix(name, table+"_")
	}
	for _, suffix := range []string{"_check", "_valid", "_chk"} {
		if trimmed, ok := strings.CutSuffix(name, suffix); ok {
			if trimmed != "" && !strings.Contains(trimmed, "_") {
				return trimmed
			}
			return ""
		}
	}
	return ""
}

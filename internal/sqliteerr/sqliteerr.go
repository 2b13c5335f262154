// Package sqliteerr classifies SQLite failures by message. Both the embedded
// sqlite engine and rqlite (SQLite behind HTTP) report errors as text, so
// matching on the message is the only form both share.
package sqliteerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/medatechnology/goutil/medaerror"
)

// Common error messages from SQLite
const (
	MsgUniqueConstraint     = "UNIQUE constraint failed"
	MsgPrimaryKeyConstraint = "PRIMARY KEY constraint failed"
	MsgNotNullConstraint    = "NOT NULL constraint failed"
	MsgForeignKeyConstraint = "FOREIGN KEY constraint failed"
	MsgCheckConstraint      = "CHECK constraint failed"
	MsgDatabaseLocked       = "database is locked"
	MsgDatabaseBusy         = "database is busy"
	MsgReadonlyDatabase     = "attempt to write a readonly database"
	MsgNoSuchTable          = "no such table"
	MsgNoSuchColumn         = "no such column"
	MsgSyntaxError          = "syntax error"
)

var (
	ErrConstraint     = &medaerror.MedaError{Message: "constraint violation"}
	ErrDatabaseLocked = &medaerror.MedaError{Message: "database is locked"}
	ErrReadonly       = &medaerror.MedaError{Message: "database is readonly"}
	ErrNoSuchTable    = &medaerror.MedaError{Message: "table does not exist"}
	ErrNoSuchColumn   = &medaerror.MedaError{Message: "column does not exist"}
)

// containsErrorMessage checks if an error message contains a specific substring
func containsErrorMessage(err error, msg string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(msg))
}

func IsUniqueViolation(err error) bool {
	return containsErrorMessage(err, MsgUniqueConstraint) || containsErrorMessage(err, MsgPrimaryKeyConstraint)
}

func IsNotNullViolation(err error) bool    { return containsErrorMessage(err, MsgNotNullConstraint) }
func IsForeignKeyViolation(err error) bool { return containsErrorMessage(err, MsgForeignKeyConstraint) }
func IsTableNotFound(err error) bool       { return containsErrorMessage(err, MsgNoSuchTable) }
func IsColumnNotFound(err error) bool      { return containsErrorMessage(err, MsgNoSuchColumn) }
func IsSyntaxError(err error) bool         { return containsErrorMessage(err, MsgSyntaxError) }
func IsReadonlyError(err error) bool       { return containsErrorMessage(err, MsgReadonlyDatabase) }

// IsConstraintViolation checks if the error is any type of constraint violation
func IsConstraintViolation(err error) bool {
	return IsUniqueViolation(err) ||
		IsNotNullViolation(err) ||
		IsForeignKeyViolation(err) ||
		containsErrorMessage(err, MsgCheckConstraint)
}

// IsDatabaseLocked checks if the error is due to database being locked or busy
func IsDatabaseLocked(err error) bool {
	return containsErrorMessage(err, MsgDatabaseLocked) || containsErrorMessage(err, MsgDatabaseBusy)
}

// Classify tags err with the matching kind above, keeping the original
// error in the chain. Errors it does not recognise are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var kind error
	switch {
	case IsConstraintViolation(err):
		kind = ErrConstraint
	case IsDatabaseLocked(err):
		kind = ErrDatabaseLocked
	case IsReadonlyError(err):
		kind = ErrReadonly
	case IsTableNotFound(err):
		kind = ErrNoSuchTable
	case IsColumnNotFound(err):
		kind = ErrNoSuchColumn
	default:
		return err
	}
	if errors.Is(err, kind) {
		return err
	}
	return &classified{kind: kind, err: err}
}

// classified matches both its kind and the original error.
type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string {
	return fmt.Sprintf("%s: %s", c.kind.Error(), c.err.Error())
}

func (c *classified) Unwrap() []error { return []error{c.kind, c.err} }

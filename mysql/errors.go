package mysql

import (
	"errors"
	"fmt"

	driver "github.com/go-sql-driver/mysql"
	"github.com/medatechnology/goutil/medaerror"
)

// MySQL server error numbers
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	ErrNumDuplicateEntry     uint16 = 1062
	ErrNumNoReferencedRow    uint16 = 1216
	ErrNumRowIsReferenced    uint16 = 1217
	ErrNumRowIsReferenced2   uint16 = 1451
	ErrNumNoReferencedRow2   uint16 = 1452
	ErrNumBadNull            uint16 = 1048
	ErrNumNoSuchTable        uint16 = 1146
	ErrNumBadField           uint16 = 1054
	ErrNumLockWaitTimeout    uint16 = 1205
	ErrNumLockDeadlock       uint16 = 1213
	ErrNumCheckConstraint    uint16 = 3819
	ErrNumTooManyConnections uint16 = 1040
	ErrNumServerShutdown     uint16 = 1053
	ErrNumServerGoneAway     uint16 = 2006
	ErrNumServerLostQuery    uint16 = 2013
)

var ErrMySQLInvalidDSN = &medaerror.MedaError{Message: "invalid MySQL DSN connection string"}

// MySQLError annotates a driver error with the failing operation.
type MySQLError struct {
	Operation string
	Query     string
	Number    uint16
	SQLState  string
	Message   string
	Err       error
}

func (e *MySQLError) Error() string {
	if e.Number != 0 {
		return fmt.Sprintf("%s [operation=%s, number=%d, state=%s]", e.Message, e.Operation, e.Number, e.SQLState)
	}
	return fmt.Sprintf("%s [operation=%s]", e.Message, e.Operation)
}

func (e *MySQLError) Unwrap() error { return e.Err }

// WrapMySQLError wraps a driver error, copying the server error number when
// the error is a *mysql.MySQLError.
func WrapMySQLError(err error, operation, query string) error {
	if err == nil {
		return nil
	}
	e := &MySQLError{Operation: operation, Query: query, Message: err.Error(), Err: err}
	var myErr *driver.MySQLError
	if errors.As(err, &myErr) {
		e.Number = myErr.Number
		e.SQLState = string(myErr.SQLState[:])
		e.Message = myErr.Message
	}
	return e
}

// ErrorNumber returns the server error number of err, or 0.
func ErrorNumber(err error) uint16 {
	var myErr *driver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	var wrapped *MySQLError
	if errors.As(err, &wrapped) {
		return wrapped.Number
	}
	return 0
}

func hasNumber(err error, nums ...uint16) bool {
	if err == nil {
		return false
	}
	got := ErrorNumber(err)
	for _, n := range nums {
		if got == n {
			return true
		}
	}
	return false
}

func IsUniqueViolation(err error) bool  { return hasNumber(err, ErrNumDuplicateEntry) }
func IsNotNullViolation(err error) bool { return hasNumber(err, ErrNumBadNull) }
func IsTableNotFound(err error) bool    { return hasNumber(err, ErrNumNoSuchTable) }
func IsColumnNotFound(err error) bool   { return hasNumber(err, ErrNumBadField) }
func IsDeadlock(err error) bool         { return hasNumber(err, ErrNumLockDeadlock) }

func IsForeignKeyViolation(err error) bool {
	return hasNumber(err, ErrNumNoReferencedRow, ErrNumRowIsReferenced, ErrNumRowIsReferenced2, ErrNumNoReferencedRow2)
}

// IsConstraintViolation checks if the error is any integrity constraint violation
func IsConstraintViolation(err error) bool {
	return IsUniqueViolation(err) || IsForeignKeyViolation(err) || IsNotNullViolation(err) || hasNumber(err, ErrNumCheckConstraint)
}

// IsRetryable checks if the error is transient and the operation can be retried
func IsRetryable(err error) bool {
	if errors.Is(err, driver.ErrInvalidConn) {
		return true
	}
	return hasNumber(err, ErrNumLockDeadlock, ErrNumLockWaitTimeout, ErrNumTooManyConnections,
		ErrNumServerShutdown, ErrNumServerGoneAway, ErrNumServerLostQuery)
}

package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/medatechnology/goutil/medaerror"
)

// PostgreSQL error codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 23 - Integrity Constraint Violation
	ErrCodeUniqueViolation     = "23505"
	ErrCodeForeignKeyViolation = "23503"
	ErrCodeNotNullViolation    = "23502"
	ErrCodeCheckViolation      = "23514"
	ErrCodeExclusionViolation  = "23P01"

	// Class 42 - Syntax Error or Access Rule Violation
	ErrCodeUndefinedTable  = "42P01"
	ErrCodeUndefinedColumn = "42703"
	ErrCodeDuplicateTable  = "42P07"

	// Class 08 - Connection Exception
	ErrCodeConnectionException    = "08000"
	ErrCodeConnectionFailure      = "08006"
	ErrCodeSQLClientCannotConnect = "08001"

	// Class 57 - Operator Intervention
	ErrCodeCannotConnectNow = "57P03"

	// Class 53 - Insufficient Resources
	ErrCodeTooManyConnections = "53300"

	// Class 40 - Transaction Rollback
	ErrCodeDeadlockDetected     = "40P01"
	ErrCodeSerializationFailure = "40001"
)

var (
	ErrPostgresInvalidDSN    = &medaerror.MedaError{Message: "invalid PostgreSQL DSN connection string"}
	ErrPostgresInvalidConfig = &medaerror.MedaError{Message: "invalid PostgreSQL configuration"}
)

// PostgreSQLError annotates a driver error with the pq fields. The original
// error stays reachable through Unwrap.
type PostgreSQLError struct {
	Operation string // The operation that failed (e.g., "EXEC", "QUERY", "COMMIT")
	Query     string // The SQL query that failed (if applicable)
	Code      string // PostgreSQL error code
	Message   string // Error message
	Detail    string // Detailed error information
	Hint      string // Hint for fixing the error
	Err       error  // Original error
}

func (e *PostgreSQLError) Error() string {
	var parts []string
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Operation))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	msg := e.Message
	if len(parts) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(parts, ", "))
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s - Detail: %s", msg, e.Detail)
	}
	if e.Hint != "" {
		msg = fmt.Sprintf("%s - Hint: %s", msg, e.Hint)
	}
	return msg
}

func (e *PostgreSQLError) Unwrap() error {
	return e.Err
}

// WrapPostgreSQLError wraps a driver error, copying the pq fields when the
// error is a *pq.Error.
func WrapPostgreSQLError(err error, operation, query string) error {
	if err == nil {
		return nil
	}

	pgErr := &PostgreSQLError{
		Operation: operation,
		Query:     query,
		Message:   err.Error(),
		Err:       err,
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		pgErr.Code = string(pqErr.Code)
		pgErr.Message = pqErr.Message
		pgErr.Detail = pqErr.Detail
		pgErr.Hint = pqErr.Hint
	}

	return pgErr
}

// GetPostgreSQLErrorCode returns the SQLSTATE of err, or "".
func GetPostgreSQLErrorCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *PostgreSQLError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func hasCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	got := GetPostgreSQLErrorCode(err)
	for _, c := range codes {
		if got == c {
			return true
		}
	}
	return false
}

func IsUniqueViolation(err error) bool     { return hasCode(err, ErrCodeUniqueViolation) }
func IsForeignKeyViolation(err error) bool { return hasCode(err, ErrCodeForeignKeyViolation) }
func IsNotNullViolation(err error) bool    { return hasCode(err, ErrCodeNotNullViolation) }
func IsUndefinedTable(err error) bool      { return hasCode(err, ErrCodeUndefinedTable) }
func IsUndefinedColumn(err error) bool     { return hasCode(err, ErrCodeUndefinedColumn) }
func IsDeadlock(err error) bool            { return hasCode(err, ErrCodeDeadlockDetected) }

// IsConstraintViolation checks if the error is any integrity constraint violation
func IsConstraintViolation(err error) bool {
	return hasCode(err,
		ErrCodeUniqueViolation,
		ErrCodeForeignKeyViolation,
		ErrCodeNotNullViolation,
		ErrCodeCheckViolation,
		ErrCodeExclusionViolation)
}

// IsConnectionError checks if the error is a connection-class failure
func IsConnectionError(err error) bool {
	return hasCode(err,
		ErrCodeConnectionException,
		ErrCodeConnectionFailure,
		ErrCodeSQLClientCannotConnect,
		ErrCodeCannotConnectNow,
		ErrCodeTooManyConnections)
}

// IsRetryable checks if the error is transient and the operation can be retried
func IsRetryable(err error) bool {
	return IsDeadlock(err) || hasCode(err, ErrCodeSerializationFailure) || IsConnectionError(err)
}

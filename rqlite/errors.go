package rqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/medatechnology/goutil/medaerror"
	"github.com/medatechnology/polyorm/internal/sqliteerr"
)

// Custom RQLite errors using medaerror
var (
	ErrRQLiteInvalidURL       = &medaerror.MedaError{Message: "invalid RQLite URL"}
	ErrRQLiteConnectionFailed = &medaerror.MedaError{Message: "failed to connect to RQLite server"}
	ErrRQLiteNodeUnavailable  = &medaerror.MedaError{Message: "RQLite node is unavailable"}
	ErrRQLiteCommitFailed     = &medaerror.MedaError{Message: "RQLite batch commit failed"}
)

// RQLiteError wraps RQLite-specific errors with additional context
type RQLiteError struct {
	Operation string // The operation that failed (e.g., "QUERY", "EXEC", "COMMIT")
	Query     string // The SQL query that failed (if applicable)
	Message   string // Error message
	Detail    string // Statement-level error reported by the node
	Err       error  // Original error
}

func (e *RQLiteError) Error() string {
	msg := e.Message
	if e.Operation != "" {
		msg = fmt.Sprintf("%s [operation=%s]", msg, e.Operation)
	}
	if e.Detail != "" && e.Detail != e.Message {
		msg = fmt.Sprintf("%s - Detail: %s", msg, e.Detail)
	}
	return msg
}

func (e *RQLiteError) Unwrap() error {
	return e.Err
}

// WrapRQLiteError wraps a gorqlite error. gorqlite reports a batch failure
// as a summary error and puts the SQLite message on the statement result, so
// stmtErr (when set) is preferred for classification.
func WrapRQLiteError(err, stmtErr error, operation, query string) error {
	if err == nil && stmtErr == nil {
		return nil
	}
	cause := err
	if stmtErr != nil {
		cause = stmtErr
	}
	rqErr := &RQLiteError{
		Operation: operation,
		Query:     query,
		Message:   cause.Error(),
		Err:       sqliteerr.Classify(cause),
	}
	if err != nil && stmtErr != nil {
		rqErr.Message = err.Error()
		rqErr.Detail = stmtErr.Error()
	}
	if IsConnectionError(cause) {
		rqErr.Err = errors.Join(ErrRQLiteConnectionFailed, rqErr.Err)
	}
	return rqErr
}

// SQLite-level predicates; rqlite surfaces SQLite messages unchanged.
var (
	IsUniqueViolation     = sqliteerr.IsUniqueViolation
	IsNotNullViolation    = sqliteerr.IsNotNullViolation
	IsForeignKeyViolation = sqliteerr.IsForeignKeyViolation
	IsConstraintViolation = sqliteerr.IsConstraintViolation
	IsDatabaseLocked      = sqliteerr.IsDatabaseLocked
	IsReadonlyError       = sqliteerr.IsReadonlyError
	IsTableNotFound       = sqliteerr.IsTableNotFound
	IsColumnNotFound      = sqliteerr.IsColumnNotFound
	IsSyntaxError         = sqliteerr.IsSyntaxError
)

// IsConnectionError checks if the error is related to connection failure
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRQLiteConnectionFailed) {
		return true
	}
	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "network is unreachable") ||
		strings.Contains(errMsg, "i/o timeout") ||
		strings.Contains(errMsg, "tried all peers")
}

// IsNodeUnavailable checks if the node answered but is not serving
func IsNodeUnavailable(err error) bool {
	if errors.Is(err, ErrRQLiteNodeUnavailable) {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "503")
}

// IsRetryable checks if the error is transient and the operation can be retried
func IsRetryable(err error) bool {
	return IsDatabaseLocked(err) ||
		IsConnectionError(err) ||
		IsNodeUnavailable(err)
}

// FormatRQLiteError formats an RQLite error for logging or display
func FormatRQLiteError(err error) string {
	if err == nil {
		return "no error"
	}
	var rqErr *RQLiteError
	if !errors.As(err, &rqErr) {
		return err.Error()
	}
	var parts []string
	if rqErr.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", rqErr.Message))
	}
	if rqErr.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", rqErr.Operation))
	}
	if rqErr.Query != "" {
		parts = append(parts, fmt.Sprintf("Query: %s", rqErr.Query))
	}
	if rqErr.Detail != "" {
		parts = append(parts, fmt.Sprintf("Detail: %s", rqErr.Detail))
	}
	return strings.Join(parts, " | ")
}

package orm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/medatechnology/goutil/medaerror"
)

// Error kinds shared by every provider. They are pointers so errors.Is works
// on wrapped values regardless of what medaerror.MedaError carries.
var (
	ErrProviderNotSupported     = &medaerror.MedaError{Message: "provider not supported"}
	ErrInvalidProviderName      = &medaerror.MedaError{Message: "provider name must not be empty"}
	ErrNullConstructor          = &medaerror.MedaError{Message: "provider constructor must not be nil"}
	ErrConnectionNotInitialized = &medaerror.MedaError{Message: "connection is not initialized, call Connect first"}
	ErrNoActiveTransaction      = &medaerror.MedaError{Message: "no active transaction"}
	ErrTransactionAlreadyActive = &medaerror.MedaError{Message: "a transaction is already active"}
	ErrMissingIdentifierField   = &medaerror.MedaError{Message: "entity type has no Id field"}
	ErrNullOrMissingResult      = &medaerror.MedaError{Message: "scalar query returned no row or a null value"}
	ErrProviderClosed           = &medaerror.MedaError{Message: "provider is closed"}
	ErrInvalidTableName         = &medaerror.MedaError{Message: "invalid table name"}
	ErrInvalidColumnName        = &medaerror.MedaError{Message: "invalid column name"}
	ErrInvalidEntity            = &medaerror.MedaError{Message: "invalid entity description"}
)

// ProviderNotSupportedError is returned by Registry.Create on a lookup miss.
// It carries the requested name and what was registered at the time.
type ProviderNotSupportedError struct {
	Name       string
	Registered []string
}

func (e *ProviderNotSupportedError) Error() string {
	names := append([]string(nil), e.Registered...)
	sort.Strings(names)
	return fmt.Sprintf("%s: %q (registered: %s)", ErrProviderNotSupported.Error(), e.Name, strings.Join(names, ", "))
}

// Unwrap lets errors.Is(err, ErrProviderNotSupported) match.
func (e *ProviderNotSupportedError) Unwrap() error {
	return ErrProviderNotSupported
}

// ErrorContext provides additional context for errors
type ErrorContext struct {
	Operation string                 // The operation that failed (e.g., "SELECT", "INSERT")
	Table     string                 // The table involved (if applicable)
	Query     string                 // The SQL query (if applicable)
	Fields    map[string]interface{} // Additional context fields
}

// ORMError wraps an error with additional context
type ORMError struct {
	Err     error
	Context ErrorContext
}

// Error implements the error interface
func (e *ORMError) Error() string {
	msg := e.Err.Error()

	var parts []string
	if e.Context.Operation != "" {
		parts = append(parts, fmt.Sprintf("operation=%s", e.Context.Operation))
	}
	if e.Context.Table != "" {
		parts = append(parts, fmt.Sprintf("table=%s", e.Context.Table))
	}

	if len(parts) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(parts, ", "))
	}

	return msg
}

// Unwrap returns the underlying error
func (e *ORMError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with context information
func WrapError(err error, operation, table string) error {
	if err == nil {
		return nil
	}

	return &ORMError{
		Err: err,
		Context: ErrorContext{
			Operation: operation,
			Table:     table,
		},
	}
}

// WrapErrorWithQuery wraps an error with context including the SQL query
func WrapErrorWithQuery(err error, operation, table, query string) error {
	if err == nil {
		return nil
	}

	return &ORMError{
		Err: err,
		Context: ErrorContext{
			Operation: operation,
			Table:     table,
			Query:     query,
		},
	}
}

// IsORMError checks if an error is, or wraps, an ORMError
func IsORMError(err error) bool {
	var ormErr *ORMError
	return errors.As(err, &ormErr)
}

// GetErrorContext extracts the error context if the error is an ORMError
func GetErrorContext(err error) (ErrorContext, bool) {
	var ormErr *ORMError
	if errors.As(err, &ormErr) {
		return ormErr.Context, true
	}
	return ErrorContext{}, false
}

// Common error wrapping helpers for specific operations

// WrapSelectError wraps a SELECT operation error
func WrapSelectError(err error, table string) error {
	return WrapError(err, "SELECT", table)
}

// WrapInsertError wraps an INSERT operation error
func WrapInsertError(err error, table string) error {
	return WrapError(err, "INSERT", table)
}

// WrapUpdateError wraps an UPDATE operation error
func WrapUpdateError(err error, table string) error {
	return WrapError(err, "UPDATE", table)
}

// WrapDeleteError wraps a DELETE operation error
func WrapDeleteError(err error, table string) error {
	return WrapError(err, "DELETE", table)
}

// WrapConnectionError wraps a connection-related error
func WrapConnectionError(err error) error {
	return WrapError(err, "CONNECT", "")
}

// WrapTransactionError wraps a transaction-related error
func WrapTransactionError(err error, operation string) error {
	return WrapError(err, "TRANSACTION:"+operation, "")
}

// FormatError formats an error for logging with all available context
func FormatError(err error) string {
	if err == nil {
		return "no error"
	}

	var ormErr *ORMError
	if errors.As(err, &ormErr) {
		var parts []string
		parts = append(parts, fmt.Sprintf("Error: %s", ormErr.Err.Error()))

		if ormErr.Context.Operation != "" {
			parts = append(parts, fmt.Sprintf("Operation: %s", ormErr.Context.Operation))
		}
		if ormErr.Context.Table != "" {
			parts = append(parts, fmt.Sprintf("Table: %s", ormErr.Context.Table))
		}
		if ormErr.Context.Query != "" {
			parts = append(parts, fmt.Sprintf("Query: %s", ormErr.Context.Query))
		}
		if len(ormErr.Context.Fields) > 0 {
			parts = append(parts, fmt.Sprintf("Fields: %v", ormErr.Context.Fields))
		}

		return strings.Join(parts, " | ")
	}

	return err.Error()
}

// LogErrorWithContext logs msg at error level on l, adding the ORMError
// context of err as fields when present.
func LogErrorWithContext(l Logger, msg string, err error, fields ...Field) {
	if err == nil {
		return
	}

	logFields := make([]Field, 0, len(fields)+4)
	logFields = append(logFields, fields...)

	if ctx, ok := GetErrorContext(err); ok {
		if ctx.Operation != "" {
			logFields = append(logFields, String("operation", ctx.Operation))
		}
		if ctx.Table != "" {
			logFields = append(logFields, String("table", ctx.Table))
		}
		if ctx.Query != "" {
			logFields = append(logFields, String("query", ctx.Query))
		}
	}

	logFields = append(logFields, Error(err))

	LoggerOrDefault(l).Error(msg, logFields...)
}

package pgkit

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCode represents a database error classification
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeMultiple         ErrorCode = "MULTIPLE_ROWS"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeForeignKey       ErrorCode = "FOREIGN_KEY"
	CodeCheckViolation   ErrorCode = "CHECK_VIOLATION"
	CodeNotNullViolation ErrorCode = "NOT_NULL"
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeSerialization    ErrorCode = "SERIALIZATION"
	CodeDeadlock         ErrorCode = "DEADLOCK"
	CodeReadOnly         ErrorCode = "READ_ONLY"
	CodeEventHandler     ErrorCode = "EVENT_HANDLER"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Sentinel errors for quick checks
var (
	ErrNotFound         = errors.New("pgkit: no rows returned")
	ErrMultiple         = errors.New("pgkit: multiple rows returned")
	ErrDuplicate        = errors.New("pgkit: duplicate key violation")
	ErrForeignKey       = errors.New("pgkit: foreign key violation")
	ErrCheckViolation   = errors.New("pgkit: check constraint violation")
	ErrNotNullViolation = errors.New("pgkit: not null violation")
	ErrConnection       = errors.New("pgkit: connection failed")
	ErrTimeout          = errors.New("pgkit: operation timeout")
	ErrSerialization    = errors.New("pgkit: serialization failure")
	ErrDeadlock         = errors.New("pgkit: deadlock detected")
	ErrReadOnly         = errors.New("pgkit: protocol namespace is read-only")
	ErrEventHandler     = errors.New("pgkit: event handler failed")
)

// Error is a rich database error with context
type Error struct {
	Code       ErrorCode // Error classification
	Message    string    // Human-readable message
	Op         string    // Operation that failed (e.g., "Query", "Task")
	Event      string    // Lifecycle event involved, if any (e.g., "query")
	Table      string    // Table name if known
	Column     string    // Column name if known
	Constraint string    // Constraint name if applicable
	Detail     string    // Additional detail from PostgreSQL
	Hint       string    // Hint from PostgreSQL
	Cause      error     // Underlying error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("pgkit: %s", e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("pgkit.%s: %s", e.Op, e.Message)
	}
	if e.Event != "" {
		msg += fmt.Sprintf(" (event: %s)", e.Event)
	}
	if e.Table != "" {
		msg += fmt.Sprintf(" (table: %s)", e.Table)
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint: %s)", e.Constraint)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for sentinel error matching
func (e *Error) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == ErrNotFound
	case CodeMultiple:
		return target == ErrMultiple
	case CodeDuplicate:
		return target == ErrDuplicate
	case CodeForeignKey:
		return target == ErrForeignKey
	case CodeCheckViolation:
		return target == ErrCheckViolation
	case CodeNotNullViolation:
		return target == ErrNotNullViolation
	case CodeConnectionFailed:
		return target == ErrConnection
	case CodeTimeout:
		return target == ErrTimeout
	case CodeSerialization:
		return target == ErrSerialization
	case CodeDeadlock:
		return target == ErrDeadlock
	case CodeReadOnly:
		return target == ErrReadOnly
	case CodeEventHandler:
		return target == ErrEventHandler
	}
	return false
}

// handlerError wraps an error returned (or panicked) by a veto-capable event
// handler so it becomes the rejection reason of the in-flight operation.
func handlerError(event string, cause error) *Error {
	return &Error{
		Code:    CodeEventHandler,
		Message: fmt.Sprintf("%s event handler failed: %v", event, cause),
		Event:   event,
		Cause:   cause,
	}
}

// readOnlyError reports an attempt to mutate a locked protocol namespace.
func readOnlyError(member string) *Error {
	return &Error{
		Code:    CodeReadOnly,
		Message: fmt.Sprintf("cannot write protocol member %q: namespace is locked", member),
		Op:      "Set",
	}
}

// wrapError converts a raw error to a rich Error
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}

	// Already wrapped
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return err
	}

	// Check for "no rows" error
	if err.Error() == "sql: no rows in result set" {
		return &Error{
			Code:    CodeNotFound,
			Message: "no rows returned",
			Op:      op,
			Cause:   err,
		}
	}

	// PostgreSQL specific errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return wrapPgError(pgErr, op)
	}

	// Generic wrapping
	return &Error{
		Code:    CodeUnknown,
		Message: err.Error(),
		Op:      op,
		Cause:   err,
	}
}

// wrapPgError converts PostgreSQL errors to rich errors
func wrapPgError(pgErr *pgconn.PgError, op string) *Error {
	e := &Error{
		Op:         op,
		Table:      pgErr.TableName,
		Column:     pgErr.ColumnName,
		Constraint: pgErr.ConstraintName,
		Detail:     pgErr.Detail,
		Hint:       pgErr.Hint,
		Cause:      pgErr,
	}

	// Map PostgreSQL error codes
	// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
	switch pgErr.Code {
	case "23505": // unique_violation
		e.Code = CodeDuplicate
		e.Message = "duplicate key value violates unique constraint"
	case "23503": // foreign_key_violation
		e.Code = CodeForeignKey
		e.Message = "foreign key constraint violation"
	case "23502": // not_null_violation
		e.Code = CodeNotNullViolation
		e.Message = "null value in column violates not-null constraint"
	case "23514": // check_violation
		e.Code = CodeCheckViolation
		e.Message = "check constraint violation"
	case "40001": // serialization_failure
		e.Code = CodeSerialization
		e.Message = "serialization failure, retry transaction"
	case "40P01": // deadlock_detected
		e.Code = CodeDeadlock
		e.Message = "deadlock detected"
	case "57014": // query_canceled (timeout)
		e.Code = CodeTimeout
		e.Message = "query was cancelled due to timeout"
	case "08000", "08003", "08006": // connection errors
		e.Code = CodeConnectionFailed
		e.Message = "database connection failed"
	default:
		e.Code = CodeUnknown
		e.Message = pgErr.Message
	}

	return e
}

// IsNotFound checks if error is a no-rows error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMultiple checks if error is a multiple-rows error
func IsMultiple(err error) bool {
	return errors.Is(err, ErrMultiple)
}

// IsDuplicate checks if error is a duplicate key error
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsConnection checks if error is a connection error
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsTimeout checks if error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsReadOnly checks if error is a protocol write-protection error
func IsReadOnly(err error) bool {
	return errors.Is(err, ErrReadOnly)
}

// IsEventHandler checks if error originated in a veto-capable event handler
func IsEventHandler(err error) bool {
	return errors.Is(err, ErrEventHandler)
}

// IsRetryable checks if the error is retryable (serialization, deadlock)
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerialization) || errors.Is(err, ErrDeadlock)
}

// GetErrorCode extracts the error code if it's a pgkit error
func GetErrorCode(err error) (ErrorCode, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return dbErr.Code, true
	}
	return "", false
}

// GetConstraint extracts the constraint name if available
func GetConstraint(err error) (string, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Constraint != "" {
		return dbErr.Constraint, true
	}
	return "", false
}

// GetTable extracts the table name if available
func GetTable(err error) (string, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Table != "" {
		return dbErr.Table, true
	}
	return "", false
}

// GetDetail extracts the error detail if available
func GetDetail(err error) (string, bool) {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Detail != "" {
		return dbErr.Detail, true
	}
	return "", false
}

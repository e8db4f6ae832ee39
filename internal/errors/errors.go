// Package errors provides structured error types for the backup and
// restore pipeline, with error codes, categories, and recovery guidance.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier.
// Format: WIMM-<CATEGORY><NUMBER>
// Categories: F=Format, C=Compatibility, V=Validation, S=Safety, D=Destructive, T=Tool
type ErrorCode string

const (
	// Classification errors (no state changed, fix the input)
	ErrCodeUnknownFormat ErrorCode = "WIMM-F001"
	ErrCodeEmptyUpload   ErrorCode = "WIMM-F002"

	// Compatibility errors (no state changed, operation unsupported)
	ErrCodePostgresIntoSQLite ErrorCode = "WIMM-C001"
	ErrCodeEngineMismatch     ErrorCode = "WIMM-C002"

	// Validation errors (no state changed, upload unusable)
	ErrCodeCorruptUpload  ErrorCode = "WIMM-V001"
	ErrCodeStaleToken     ErrorCode = "WIMM-V002"
	ErrCodeNotConfirmed   ErrorCode = "WIMM-V003"
	ErrCodeDiskSpace      ErrorCode = "WIMM-V004"
	ErrCodeToolMissing    ErrorCode = "WIMM-V005"
	ErrCodeBadConfig      ErrorCode = "WIMM-V006"
	ErrCodeBusy           ErrorCode = "WIMM-V007"

	// Safety-backup failures (warnings, never abort the main operation)
	ErrCodeSafetyBackup ErrorCode = "WIMM-S001"

	// Destructive-step failures (system may be degraded, recovery path required)
	ErrCodeRestoreFailed   ErrorCode = "WIMM-D001"
	ErrCodeMigrationFailed ErrorCode = "WIMM-D002"
	ErrCodeCountMismatch   ErrorCode = "WIMM-D003"

	// External tool failures
	ErrCodeToolFailed  ErrorCode = "WIMM-T001"
	ErrCodeToolTimeout ErrorCode = "WIMM-T002"
)

// Category represents error categories from the pipeline's taxonomy.
type Category string

const (
	CategoryClassification Category = "classification"
	CategoryCompatibility  Category = "compatibility"
	CategoryValidation     Category = "validation"
	CategorySafetyBackup   Category = "safety-backup"
	CategoryDestructive    Category = "destructive"
	CategoryTool           Category = "tool"
)

// PipelineError is a structured error with code, category, and operator guidance.
type PipelineError struct {
	Code     ErrorCode
	Category Category
	Message  string
	Details  string
	// SafetyBackupPath is set on destructive-step failures so an operator
	// can always find the recovery artifact.
	SafetyBackupPath string
	Cause            error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf(": %s", e.Details)
	}
	if e.SafetyBackupPath != "" {
		msg += fmt.Sprintf(" (safety backup: %s)", e.SafetyBackupPath)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is comparison by code.
func (e *PipelineError) Is(target error) bool {
	if t, ok := target.(*PipelineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetails adds details to an error.
func (e *PipelineError) WithDetails(details string) *PipelineError {
	e.Details = details
	return e
}

// WithCause adds an underlying cause.
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// UnknownFormat creates a classification error for an unrecognized upload.
func UnknownFormat(path string) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeUnknownFormat,
		Category: CategoryClassification,
		Message:  "uploaded file is not a recognized backup format",
		Details:  fmt.Sprintf("file %s is neither a SQLite database nor a PostgreSQL dump", path),
	}
}

// EmptyUpload creates a classification error for a zero-byte upload.
func EmptyUpload(path string) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeEmptyUpload,
		Category: CategoryClassification,
		Message:  "uploaded file is empty",
		Details:  fmt.Sprintf("file %s contains no data", path),
	}
}

// UnsupportedDirection creates a compatibility error for the one rejected
// scenario: a PostgreSQL backup cannot be restored into a SQLite deployment.
func UnsupportedDirection() *PipelineError {
	return &PipelineError{
		Code:     ErrCodePostgresIntoSQLite,
		Category: CategoryCompatibility,
		Message:  "restoring a PostgreSQL backup into a SQLite deployment is not supported",
		Details:  "switch the deployment to PostgreSQL first, or restore a SQLite backup instead",
	}
}

// CorruptUpload creates a validation error for a structurally broken file.
func CorruptUpload(path string, cause error) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeCorruptUpload,
		Category: CategoryValidation,
		Message:  "uploaded backup failed its integrity check",
		Details:  fmt.Sprintf("file %s is corrupt; nothing was changed", path),
		Cause:    cause,
	}
}

// StaleToken creates a validation error for an expired or unknown restore token.
func StaleToken(token string) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeStaleToken,
		Category: CategoryValidation,
		Message:  "restore session token is expired or unknown",
		Details:  fmt.Sprintf("token %s: re-upload the backup file to start over", token),
	}
}

// OperationInProgress creates a validation error for a concurrent restore attempt.
func OperationInProgress() *PipelineError {
	return &PipelineError{
		Code:     ErrCodeBusy,
		Category: CategoryValidation,
		Message:  "another backup or restore operation is already in progress",
		Details:  "wait for the current operation to finish and try again",
	}
}

// ToolMissing creates a validation error for an absent external binary.
func ToolMissing(tool string) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeToolMissing,
		Category: CategoryValidation,
		Message:  fmt.Sprintf("required tool not found: %s", tool),
		Details:  "install the postgresql client package providing pg_dump, pg_restore and psql",
	}
}

// ToolFailed creates a tool error carrying the captured stderr.
func ToolFailed(tool string, exitCode int, stderr string, cause error) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeToolFailed,
		Category: CategoryTool,
		Message:  fmt.Sprintf("%s exited with code %d", tool, exitCode),
		Details:  stderr,
		Cause:    cause,
	}
}

// ToolTimeout creates a tool error for an external binary killed on timeout.
func ToolTimeout(tool string, cause error) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeToolTimeout,
		Category: CategoryTool,
		Message:  fmt.Sprintf("%s timed out and was killed", tool),
		Cause:    cause,
	}
}

// SafetyBackupFailed creates the warning-grade error for a failed safety backup.
func SafetyBackupFailed(cause error) *PipelineError {
	return &PipelineError{
		Code:     ErrCodeSafetyBackup,
		Category: CategorySafetyBackup,
		Message:  "could not create a safety backup of the current database",
		Details:  "the operation continues, but there is no automatic recovery point",
		Cause:    cause,
	}
}

// DestructiveFailed creates a destructive-step failure that names the safety
// backup so an operator can manually recover.
func DestructiveFailed(code ErrorCode, message, safetyBackupPath string, cause error) *PipelineError {
	return &PipelineError{
		Code:             code,
		Category:         CategoryDestructive,
		Message:          message,
		SafetyBackupPath: safetyBackupPath,
		Cause:            cause,
	}
}

// IsRecoverable reports whether nothing observable was changed and the caller
// can simply fix the input and retry.
func IsRecoverable(err error) bool {
	switch GetCategory(err) {
	case CategoryClassification, CategoryCompatibility, CategoryValidation:
		return true
	}
	return false
}

// GetCategory returns the error category if available.
func GetCategory(err error) Category {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode returns the error code if available.
func GetCode(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// SafetyBackupOf returns the recovery path recorded on a destructive failure.
func SafetyBackupOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.SafetyBackupPath
	}
	return ""
}

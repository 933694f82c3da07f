package notes

import (
	"fmt"

	"go.uber.org/zap"
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opEngineNew    = "notes.engine.new"
	opEngineLoad   = "notes.engine.load"
	opHandleCreate = "notes.engine.create"
	opHandleUpdate = "notes.engine.update"
	opHandleDelete = "notes.engine.delete"
	opRepoNew      = "notes.repository.new"
	opRepoLoad     = "notes.repository.load"
	opRepoCommit   = "notes.repository.commit"

	reasonMissingStore       = "missing_store"
	reasonMissingAuditLog    = "missing_audit_log"
	reasonMissingPersister   = "missing_persister"
	reasonMissingDatabase    = "missing_database"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonPersistFailed      = "persist_failed"
	reasonLoadFailed         = "load_failed"
	reasonRestoreFailed      = "restore_failed"
	reasonQueryFailed        = "query_failed"
	reasonDecodeFailed       = "decode_failed"
	reasonEncodeFailed       = "encode_failed"
	reasonNoteWriteFailed    = "note_write_failed"
	reasonNoteDeleteFailed   = "note_delete_failed"
	reasonHistoryWriteFailed = "history_write_failed"
)

var noOpLogger = zap.NewNop()

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logServiceError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("notes service error", attrs...)
}

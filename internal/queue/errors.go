package queue

import "errors"

var (
	// ErrStatusConflict means a guarded update found the record in a different
	// status than expected; another worker advanced it first.
	ErrStatusConflict = errors.New("record status changed concurrently")
	// ErrResultRecorded means a stage result already exists for the record.
	ErrResultRecorded = errors.New("stage result already recorded")
	// ErrCredentialBusy means another operation holds the credential.
	ErrCredentialBusy = errors.New("credential busy")
	// ErrQuotaExhausted means the credential reached its daily limit.
	ErrQuotaExhausted = errors.New("credential daily quota exhausted")
	// ErrUnknownCredential means no credential row exists for the account.
	ErrUnknownCredential = errors.New("unknown credential")
	// ErrOperationMismatch means a release did not match the current operation.
	ErrOperationMismatch = errors.New("credential operation mismatch")
)

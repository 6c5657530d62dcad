// Package ingesterr defines the error taxonomy shared by the ingestion
// pipeline. Callers wrap these sentinels with fmt.Errorf("...: %w") and test
// them with errors.Is.
package ingesterr

import "errors"

var (
	// ErrValidation marks a malformed or irrelevant notification. It never
	// escapes the intake stage; the notification is discarded.
	ErrValidation = errors.New("validation error")

	// ErrRetryableProvider marks a transient provider failure (throttling,
	// timeout, 5xx) that the retry engine re-queues.
	ErrRetryableProvider = errors.New("retryable provider error")

	// ErrFatalProvider marks a provider failure that retrying will not fix.
	ErrFatalProvider = errors.New("fatal provider error")

	// ErrRetryExhausted marks a retryable failure whose retry budget is spent.
	ErrRetryExhausted = errors.New("retry limit exceeded")

	// ErrReconciliationFormat marks a result artifact of unrecognized shape.
	ErrReconciliationFormat = errors.New("unrecognized result artifact")

	// ErrStorage wraps object-store and queue failures.
	ErrStorage = errors.New("storage error")

	// ErrObjectNotFound is returned by object stores when the named object
	// does not exist. Moves and deletes treat it as already done.
	ErrObjectNotFound = errors.New("object not found")

	// ErrDestinationExists is returned by a non-overwriting move whose
	// destination holds different content.
	ErrDestinationExists = errors.New("destination object already exists")
)

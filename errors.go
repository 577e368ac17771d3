package resque

import "errors"

var (
	// ErrDontCreate is returned by enqueue calls vetoed by a beforeEnqueue listener.
	ErrDontCreate = errors.New("resque: job creation cancelled by listener")

	// ErrHandlerNotFound is returned when no handler is registered for a job class.
	ErrHandlerNotFound = errors.New("resque: handler not found")

	// ErrHookNotFound is returned when a job names a hook that is not registered.
	ErrHookNotFound = errors.New("resque: hook not found")

	// ErrDuplicateHandler is returned when a handler is registered twice for the same class.
	ErrDuplicateHandler = errors.New("resque: duplicate handler registration")

	// ErrInvalidClass is returned when a job class is empty.
	ErrInvalidClass = errors.New("resque: invalid job class")

	// ErrInvalidQueueName is returned when a queue name contains invalid characters.
	ErrInvalidQueueName = errors.New("resque: invalid queue name (only alphanumeric, hyphen, underscore, dot allowed; max 128 chars)")

	// ErrInvalidTimestamp is returned when a delayed job is scheduled with a non-positive timestamp.
	ErrInvalidTimestamp = errors.New("resque: invalid timestamp")

	// ErrNoWorkerGroup is returned at startup when no worker group is configured.
	ErrNoWorkerGroup = errors.New("resque: no worker group configured")

	// ErrInvalidInterval is returned when a worker interval is not positive.
	ErrInvalidInterval = errors.New("resque: interval must be greater than zero")

	// ErrInvalidCrontab is returned when a crontab fails validation.
	ErrInvalidCrontab = errors.New("resque: invalid crontab")

	// ErrUnknownWorkerType is returned when a worker group names an unregistered worker type.
	ErrUnknownWorkerType = errors.New("resque: unknown worker type")

	// ErrDirtyExit is used to fail a job whose executor process died or whose
	// worker unregistered while the job was still in flight.
	ErrDirtyExit = errors.New("resque: job exited unexpectedly")

	// ErrJobDataTooLarge is returned when an encoded job exceeds the size limit.
	ErrJobDataTooLarge = errors.New("resque: job data too large (max 1MB)")
)

// StorageError reports a failure talking to the keyed storage service.
// It is never retried by the library; it propagates to the process boundary.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "resque: storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is, or wraps, a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotQueued is returned when a job is started a second time
	ErrJobNotQueued = errors.New("job is not in queued status")

	// ErrInvalidJob is returned when an enqueue request fails validation
	ErrInvalidJob = errors.New("invalid job request")

	// ErrUnknownFunction is returned when no job function is registered under a name
	ErrUnknownFunction = errors.New("unknown job function")

	// ErrAssignmentNotFound is returned when an assignment cannot be found
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrBackupNotFound is returned when a backup cannot be found
	ErrBackupNotFound = errors.New("backup not found")

	// ErrTaskNotFound is returned when a grading task cannot be found
	ErrTaskNotFound = errors.New("grading task not found")

	// ErrTaskNotAssigned is returned when a grader scores someone else's task
	ErrTaskNotAssigned = errors.New("grading task is assigned to another grader")

	// ErrNoGraders is returned when tasks are requested without graders
	ErrNoGraders = errors.New("at least one grader is required")

	// ErrNotStaff is returned when a grader has no staff role in the course
	ErrNotStaff = errors.New("user is not staff in this course")

	// ErrNoAutogradingKey is returned when an assignment is not set up for autograding
	ErrNoAutogradingKey = errors.New("assignment has no autograding key")

	// ErrInvalidToken is returned when a bearer token is unknown, expired, or forged
	ErrInvalidToken = errors.New("invalid access token")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

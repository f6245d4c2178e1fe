package domain

import "errors"

// ErrConcurrencyConflict indicates that the underlying storage rejected an
// update because a newer version of the entity is already persisted.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrMilestoneNotFound = errors.New("milestone not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrUnknownCommand    = errors.New("unknown command")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrForbidden         = errors.New("workflow belongs to another organization")
)

// IsPermanent reports whether retrying the same command can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrMilestoneNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrForbidden)
}

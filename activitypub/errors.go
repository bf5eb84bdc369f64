package activitypub

import (
	"errors"
	"fmt"
)

// State divergence: an activity refers to something this node never saw.
var (
	ErrUnknownRate       = errors.New("unknown rate")
	ErrUnknownFollow     = errors.New("unknown follow")
	ErrUnknownShare      = errors.New("unknown share")
	ErrUnknownRedundancy = errors.New("unknown redundancy")
	ErrUnknownVideo      = errors.New("unknown video")
)

// ForbiddenError reports an actor trying to change something it does not own.
type ForbiddenError struct {
	Actor  string
	Action string
	Object string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s may not %s %s", e.Actor, e.Action, e.Object)
}

// Permanent reports that retrying will not change the outcome.
func (e *ForbiddenError) Permanent() bool { return true }

func forbidden(actor, action, object string) error {
	return &ForbiddenError{Actor: actor, Action: action, Object: object}
}

// permanentError marks an error that should not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Permanent() bool { return true }

// Permanent wraps err so the job queue does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

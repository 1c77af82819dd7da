package router

import (
	"errors"
	"fmt"

	"github.com/npezzotti/go-supportchat/internal/database"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("forbidden")
	ErrRoomLocked      = errors.New("this conversation is locked")

	ErrEmptyMessage        = database.ErrEmptyMessage
	ErrMissingRoom         = &ValidationError{Reason: "room id is required"}
	ErrInvalidSubscription = &ValidationError{Reason: "push subscription is missing endpoint or keys"}
)

// ValidationError is returned for candidates that can never be accepted.
type ValidationError = database.ValidationError

// PersistenceError wraps a room store failure. Callers surface it as a
// generic server error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

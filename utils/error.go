package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// ValidationError reports a rejected input. The handler layer maps it to 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidationError(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StateConflictError reports an action attempted from a status that does not
// allow it. The handler layer maps it to 409.
type StateConflictError struct {
	Action   string
	Current  string
	Required string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s: current status is %s, requires %s", e.Action, e.Current, e.Required)
}

// DependencyUnreadyError reports an upstream document that is not in the
// status the action requires, e.g. issuing against an unfinished readiness
// list. The handler layer maps it to 422.
type DependencyUnreadyError struct {
	Dependency string
	Status     string
	Message    string
}

func (e *DependencyUnreadyError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is not ready (status %s)", e.Dependency, e.Status)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsStateConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}

func IsDependencyUnready(err error) bool {
	var du *DependencyUnreadyError
	return errors.As(err, &du)
}

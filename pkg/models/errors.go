package models

import (
	"fmt"
	"strings"
)

// ConfigurationError indicates an unknown name or an out-of-range value in
// the planner configuration. It is returned before any graph is built.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// UnknownName builds the ConfigurationError returned for a name that is not
// part of a closed vocabulary.
func UnknownName(field, value string, valid []string) *ConfigurationError {
	return &ConfigurationError{
		Field:  field,
		Value:  value,
		Reason: "must be one of " + strings.Join(valid, ", "),
	}
}

// StateError indicates an operation invoked out of lifecycle order
type StateError struct {
	Op    string
	State RunStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: optimizer is %s", e.Op, e.State)
}

// RestoreError indicates a checkpoint could not be restored
type RestoreError struct {
	Path   string
	Reason string
	Err    error
}

func (e *RestoreError) Error() string {
	msg := "restore failed"
	if e.Path != "" {
		msg += " from " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}

// ShapeError indicates a fluent tensor whose shape does not match the
// shape declared by the compiler.
type ShapeError struct {
	Fluent string
	Want   []int
	Got    []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("fluent %s: expected shape %v, got %v", e.Fluent, e.Want, e.Got)
}

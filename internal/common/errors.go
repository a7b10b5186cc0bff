// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Configuration errors: invalid model setup, detected before any solve.
	ErrInvalidVarKind    = errors.New("invalid variable kind")
	ErrInvalidSense      = errors.New("invalid objective sense")
	ErrDuplicateID       = errors.New("duplicate or non-string id")
	ErrRuleNotFound      = errors.New("rule not found")
	ErrNoBracketColumns  = errors.New("no bracket columns match prefix")
	ErrMissingColumn     = errors.New("required column missing")
	ErrObjectiveNotSet   = errors.New("objective not set")
	ErrObjectiveNotBound = errors.New("objective not bound to a solver")

	// Capability errors: the active backend does not implement a feature.
	ErrUnsupported = errors.New("unsupported backend feature")

	// Solve errors.
	ErrInfeasible = errors.New("no feasible solution found")
	ErrNotSolved  = errors.New("system not solved")

	// Storage errors.
	ErrNotFound = errors.New("not found")
)

// ConfigError wraps a configuration error with the offending setting.
type ConfigError struct {
	Err     error
	Setting string
	Value   string
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s %q: %v", e.Setting, e.Value, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Setting, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a configuration error for a named setting.
func NewConfigError(err error, setting, value string) error {
	return &ConfigError{Err: err, Setting: setting, Value: value}
}

// IsConfig reports whether err is a build-time configuration error.
func IsConfig(err error) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, ErrInvalidVarKind) ||
		errors.Is(err, ErrInvalidSense) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrNoBracketColumns) ||
		errors.Is(err, ErrMissingColumn)
}

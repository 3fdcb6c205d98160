package efficientnet

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProfile indicates a version tag outside b0..b7
	ErrUnknownProfile = errors.New("unknown scaling profile")

	// ErrInvalidConfig indicates a bad construction argument
	ErrInvalidConfig = errors.New("invalid network config")
)

// UnknownProfileError reports the rejected version tag.
type UnknownProfileError struct {
	Version string
}

// Error implements the error interface
func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("unknown scaling profile %q (want one of %v)", e.Version, Versions())
}

// Is implements errors.Is support
func (e *UnknownProfileError) Is(target error) bool {
	return target == ErrUnknownProfile
}

// ConfigError represents a rejected construction argument.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// Is implements errors.Is support
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

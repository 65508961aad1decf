package config

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a bad or missing machine/build definition, a
// malformed option, or an invalid combination of run settings. It is always
// fatal and is raised before any work starts.
type ConfigurationError struct {
	Msg string
	Err error
}

// Errorf builds a ConfigurationError with a formatted message. A wrapped
// error passed with %w stays reachable through errors.Is/As.
func Errorf(format string, args ...any) *ConfigurationError {
	err := fmt.Errorf(format, args...)
	return &ConfigurationError{Msg: err.Error(), Err: errors.Unwrap(err)}
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidActivityConfiguration is the sentinel for every construction-time
// rejection: out-of-range risk, negative duration, bad references, cycles.
// None of these are retryable; the caller must supply corrected input.
var ErrInvalidActivityConfiguration = errors.New("invalid activity configuration")

// ConfigError carries the detail of a construction failure.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	if e == nil || e.Msg == "" {
		return ErrInvalidActivityConfiguration.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidActivityConfiguration.Error(), e.Msg)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidActivityConfiguration }

func invalidf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "dependency cycle"
	if len(path) > 0 {
		msg = "dependency cycle: " + strings.Join(path, " -> ")
	}
	return &ConfigError{Msg: msg}
}

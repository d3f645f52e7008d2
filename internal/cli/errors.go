package cli

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes.
const (
	ExitSuccess  = 0
	ExitGeneral  = 1
	ExitConfig   = 2
	ExitManifest = 3
	ExitRender   = 4
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitWithError prints the error and exits with the appropriate code.
func ExitWithError(err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", exitErr.Error())
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(ExitGeneral)
}

// ConfigError creates an ExitError with ExitConfig code.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// ManifestError creates an ExitError with ExitManifest code.
func ManifestError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitManifest, Message: msg, Err: err}
}

// RenderError creates an ExitError with ExitRender code.
func RenderError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitRender, Message: msg, Err: err}
}

// GeneralError creates an ExitError with ExitGeneral code.
func GeneralError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitGeneral, Message: msg, Err: err}
}

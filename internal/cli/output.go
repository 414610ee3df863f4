package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/anchor/internal/engine"
	"github.com/roach88/anchor/internal/identity"
	"github.com/roach88/anchor/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected transition, failed verification or failed scenarios
	ExitCommandError = 2 // Command error (bad input, unreadable key, database unavailable, etc.)
)

// CLI error codes that are not transition rejections. Rejections use
// "E_" + their ir.ErrorCode (E_UNAUTHORIZED, E_ALREADY_APPROVED, ...).
const (
	ErrCodeGeneric            = "E_GENERIC"
	ErrCodeConfig             = "E_CONFIG"
	ErrCodeInvalidInput       = "E_INVALID_INPUT"
	ErrCodeStore              = "E_STORE"
	ErrCodeKey                = "E_KEY"
	ErrCodePolicy             = "E_POLICY"
	ErrCodePolicyInvalid      = "E_POLICY_INVALID"
	ErrCodeSignature          = "E_SIGNATURE"
	ErrCodeInvalidRequest     = "E_INVALID_REQUEST"
	ErrCodeChainMismatch      = "E_CHAIN_MISMATCH"
	ErrCodeBundleRootMismatch = "E_BUNDLE_ROOT_MISMATCH"
	ErrCodeTestFailed         = "E_TEST_FAILED"
	ErrCodeWriteFailed        = "E_WRITE_FAILED"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error has been written through an
	// OutputFormatter, so main does not print it twice.
	Reported bool
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported reports whether err was already written to the user.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// ErrorCode maps err to its CLI error code.
func ErrorCode(err error) string {
	if code := ir.CodeOf(err); code != "" {
		return "E_" + string(code)
	}

	var loadErr *LoadError
	switch {
	case errors.Is(err, engine.ErrChainMismatch):
		return ErrCodeChainMismatch
	case errors.Is(err, engine.ErrBundleRootMismatch):
		return ErrCodeBundleRootMismatch
	case errors.Is(err, identity.ErrBadSignature), errors.Is(err, identity.ErrStale):
		return ErrCodeSignature
	case errors.As(err, &loadErr):
		return loadErr.Code
	}
	return ErrCodeGeneric
}

// exitCodeFor returns ExitFailure for rejections, refused signatures and
// verification failures, ExitCommandError for everything else.
func exitCodeFor(err error) int {
	switch {
	case engine.IsRejection(err),
		errors.Is(err, identity.ErrBadSignature),
		errors.Is(err, identity.ErrStale),
		errors.Is(err, engine.ErrChainMismatch),
		errors.Is(err, engine.ErrBundleRootMismatch):
		return ExitFailure
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status  string      `json:"status"`             // "ok" or "error"
	Data    interface{} `json:"data,omitempty"`     // success payload
	Error   *CLIError   `json:"error,omitempty"`    // error details
	TraceID string      `json:"trace_id,omitempty"` // optional trace correlation
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E_UNAUTHORIZED", "E_STORE", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error, details interface{}) error {
	if outErr := f.Error(ErrorCode(err), err.Error(), details); outErr != nil {
		return outErr
	}
	exitErr := WrapExitError(exitCodeFor(err), message, err)
	exitErr.Reported = true
	return exitErr
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(resp)
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"marketlake/internal/errs"
)

// Exit codes. Run-triggering commands map outcomes onto them: zero
// when every date completed cleanly, one when nothing succeeded or the
// command could not execute, two for partial outcomes (a backfill with
// both failed and successful dates, or completed runs carrying
// degraded or failed steps) so operators can alert on partial data
// separately.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitPartial = 2
)

// ExitError carries a specific process exit code out of a command.
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

// NewExitError builds an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError builds an ExitError around a cause.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error chain. Errors that
// carry no ExitError exit as failures.
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

// Response is the envelope every command emits in JSON mode.
type Response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failure in JSON mode. Code is the errs
// classification when the chain carries one.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutputFormatter renders command results as human text or as a JSON
// envelope, selected by the global --format flag.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success emits a result. In text mode data is expected to be a
// preformatted string; structured values fall back to %v.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == FormatJSON {
		return f.encode(Response{Status: "ok", Data: data})
	}
	if s, ok := data.(string); ok {
		_, err := fmt.Fprintln(f.Writer, s)
		return err
	}
	_, err := fmt.Fprintf(f.Writer, "%v\n", data)
	return err
}

// Error emits a failure. The error itself is still returned by the
// command, so text mode writes nothing and leaves the single report to
// the caller.
func (f *OutputFormatter) Error(err error) error {
	if f.Format != FormatJSON {
		return nil
	}
	return f.encode(Response{
		Status: "error",
		Error:  &ResponseError{Code: errorCode(err), Message: err.Error()},
	})
}

// errorCode maps an error chain to its errs classification, or
// INTERNAL when the chain carries none.
func errorCode(err error) string {
	if code := string(errs.KindOf(err)); code != "" {
		return code
	}
	return "INTERNAL"
}

func (f *OutputFormatter) encode(resp Response) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

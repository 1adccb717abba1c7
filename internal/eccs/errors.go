package eccs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned when the contract has no subcommand for an op.
var ErrUnsupported = errors.New("operation not supported by this eccs contract")

// ExitError reports that eccs ran but exited with a non-zero status.
type ExitError struct {
	Op     Op
	Result *Result
}

func (e *ExitError) Error() string {
	msg := firstLine(e.Result.Stderr)
	if msg == "" {
		msg = firstLine(e.Result.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("eccs %s exited with status %d", e.Op, e.Result.ExitCode)
	}
	return fmt.Sprintf("eccs %s exited with status %d: %s", e.Op, e.Result.ExitCode, msg)
}

// ParseError reports that a field could not be scraped from eccs output.
type ParseError struct {
	Op     Op
	Field  string
	Reason string
	Output string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to match %s in %s output (%s): %q", e.Field, e.Op, e.Reason, e.Output)
}

// InvalidScopeError reports a scope letter outside rcudiom, or one the
// contract cannot express.
type InvalidScopeError struct {
	Scope rune
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid scope %q", string(e.Scope))
}

// IsExitError reports whether err is, or wraps, an *ExitError.
func IsExitError(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

func firstLine(s string) string {
	s = strings.TrimSpace(StripANSI(s))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

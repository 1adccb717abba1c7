package scenario

import "fmt"

// AssertionError reports a value that differs from what the step expected.
type AssertionError struct {
	What string
	Got  string
	Want string
}

func (e *AssertionError) Error() string {
	if e.Got == "" && e.Want == "" {
		return e.What
	}
	return fmt.Sprintf("%s: %q != %q", e.What, e.Got, e.Want)
}

// SkipError ends a step without passing or failing it.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func assertEqual(what, got, want string) error {
	if got != want {
		return &AssertionError{What: what, Got: got, Want: want}
	}
	return nil
}

func fail(format string, args ...any) error {
	return &AssertionError{What: fmt.Sprintf(format, args...)}
}

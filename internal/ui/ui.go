package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

var writer io.Writer = os.Stderr

// SetWriter sets where warnings, errors and notices go. nil restores stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

// --- Color detection ---

var stdoutColor = detectColor(os.Stdout)
var stderrColor = detectColor(os.Stderr)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

func ansi(code, s string) string {
	if !stdoutColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func ansiStderr(code, s string) string {
	if !stderrColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold returns s wrapped in bold ANSI codes (stdout).
func Bold(s string) string { return ansi("1", s) }

// Dim returns s wrapped in dim ANSI codes (stdout).
func Dim(s string) string { return ansi("2", s) }

// Green returns s wrapped in green ANSI codes (stdout).
func Green(s string) string { return ansi("32", s) }

// Red returns s wrapped in red ANSI codes (stdout).
func Red(s string) string { return ansi("31", s) }

// Yellow returns s wrapped in yellow ANSI codes (stdout).
func Yellow(s string) string { return ansi("33", s) }

// Section prints a bold title with a thin underline to w.
func Section(w io.Writer, title string) {
	fmt.Fprintln(w, Bold(title))
	fmt.Fprintln(w, Dim(strings.Repeat("─", len(title))))
}

// OKTag returns a green "✓" for success indicators.
func OKTag() string { return Green("✓") }

// FailTag returns a red "✗" for failure indicators.
func FailTag() string { return Red("✗") }

// WarnTag returns a yellow "⚠" for warning indicators.
func WarnTag() string { return Yellow("⚠") }

// --- Step markers ---

// PassMark is the "[+]" prefix of a passing step.
func PassMark() string { return Green("[+]") }

// FailMark is the "[-]" prefix of a failing step.
func FailMark() string { return Red("[-]") }

// SkipMark is the "[~]" prefix of a skipped step.
func SkipMark() string { return Yellow("[~]") }

// Printer writes step lines for one or more targets. It is safe for
// concurrent use; each line is written atomically.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) line(prefix, mark, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prefix != "" {
		fmt.Fprintf(p.w, "%s %s %s\n", mark, Dim(prefix), msg)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", mark, msg)
}

// Pass prints a "[+]" line. prefix, when non-empty, names the target.
func (p *Printer) Pass(prefix, msg string) { p.line(prefix, PassMark(), msg) }

// Fail prints a "[-]" line.
func (p *Printer) Fail(prefix, msg string) { p.line(prefix, FailMark(), msg) }

// Skip prints a "[~]" line.
func (p *Printer) Skip(prefix, msg string) { p.line(prefix, SkipMark(), msg) }

// Succeeded prints the closing line of a passing run.
func (p *Printer) Succeeded() { p.Pass("", "all tests succeeded") }

// --- Warn / Error / Info (stderr, colored prefix) ---

// Warnf prints a formatted user-facing warning to stderr.
func Warnf(format string, args ...any) {
	fmt.Fprintf(writer, "%s %s\n", ansiStderr("33", "Warning:"), fmt.Sprintf(format, args...))
}

// Errorf prints a formatted user-facing error to stderr.
func Errorf(format string, args ...any) {
	fmt.Fprintf(writer, "%s %s\n", ansiStderr("31", "Error:"), fmt.Sprintf(format, args...))
}

// Infof prints a formatted user-facing message to stderr with no prefix.
func Infof(format string, args ...any) {
	fmt.Fprintf(writer, format+"\n", args...)
}

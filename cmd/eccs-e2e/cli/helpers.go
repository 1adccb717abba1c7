package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/majorcontext/eccs-e2e/internal/config"
	"github.com/majorcontext/eccs-e2e/internal/credential"
	"github.com/majorcontext/eccs-e2e/internal/credential/keyring"
	"github.com/majorcontext/eccs-e2e/internal/history"
)

func loadConfig() (*config.Config, string, error) {
	dir := config.Dir()
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, dir, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, dir, nil
}

func openHistory(dir string) (*history.Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	store, err := history.Open(history.Path(dir))
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	return store, nil
}

// openCredentials opens the credential store. With create false it fails
// instead of generating a key when none exists yet.
func openCredentials(dir string, create bool) (*credential.FileStore, error) {
	if !create && keyring.Location(dir) == "" {
		return nil, credential.ErrNotFound
	}
	store, err := credential.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	return store, nil
}

// prompter asks for input on in. Secrets are not echoed when in is a
// terminal; otherwise lines are read as-is so input can be piped.
type prompter struct {
	in  *os.File
	r   *bufio.Reader
	out io.Writer
}

func newPrompter(in *os.File, out io.Writer) *prompter {
	return &prompter{in: in, r: bufio.NewReader(in), out: out}
}

func (p *prompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt+": ")
	return p.readLine(prompt)
}

func (p *prompter) Secret(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt+": ")

	fd := int(p.in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(prompt), err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return p.readLine(prompt)
}

func (p *prompter) readLine(what string) (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(what), err)
	}
	return strings.TrimSpace(line), nil
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

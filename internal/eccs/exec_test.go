package eccs

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is re-executed by the tests
// below as a stand-in eccs binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("ECCS_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) > 0 {
		args = args[1:]
	}
	switch args[0] {
	case "echo":
		in, _ := io.ReadAll(os.Stdin)
		fmt.Fprintf(os.Stdout, "stdin=%s endpoint=%s", in, os.Getenv("ECCS_ENDPOINT"))
		fmt.Fprint(os.Stderr, "to stderr")
		os.Exit(0)
	case "fail":
		fmt.Fprint(os.Stderr, "Error: object not found")
		os.Exit(3)
	case "sleep":
		time.Sleep(10 * time.Second)
		os.Exit(0)
	case "detach":
		// Leave a grandchild holding stdout open after exiting.
		child := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", "sleep")
		child.Env = os.Environ()
		child.Stdout = os.Stdout
		if err := child.Start(); err != nil {
			os.Exit(4)
		}
		fmt.Fprint(os.Stdout, "stored")
		os.Exit(0)
	}
	os.Exit(2)
}

func helperExecutor(t *testing.T) *ProcessExecutor {
	t.Helper()
	p := NewProcessExecutor(os.Args[0])
	p.Env = []string{"ECCS_WANT_HELPER_PROCESS=1"}
	return p
}

func helperArgs(args ...string) []string {
	return append([]string{"-test.run=TestHelperProcess", "--"}, args...)
}

func TestProcessExecutor_Success(t *testing.T) {
	p := helperExecutor(t)
	res, err := p.Exec(context.Background(), Invocation{
		Args:  helperArgs("echo"),
		Stdin: "payload",
		Env:   []string{"ECCS_ENDPOINT=localhost:9000"},
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "stdin=payload endpoint=localhost:9000" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.Stderr != "to stderr" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "to stderr")
	}
}

func TestProcessExecutor_NonZeroExit(t *testing.T) {
	p := helperExecutor(t)
	res, err := p.Exec(context.Background(), Invocation{Args: helperArgs("fail")})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "object not found") {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestProcessExecutor_Timeout(t *testing.T) {
	p := helperExecutor(t)
	p.Timeout = 200 * time.Millisecond
	_, err := p.Exec(context.Background(), Invocation{Args: helperArgs("sleep")})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if IsExitError(err) {
		t.Errorf("timeout reported as exit error: %v", err)
	}
}

func TestProcessExecutor_DescendantHoldsOutput(t *testing.T) {
	p := helperExecutor(t)
	start := time.Now()
	res, err := p.Exec(context.Background(), Invocation{Args: helperArgs("detach")})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if elapsed := time.Since(start); elapsed > pipeWaitDelay+3*time.Second {
		t.Errorf("Exec took %s, want about %s", elapsed, pipeWaitDelay)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "stored" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "stored")
	}
}

func TestProcessExecutor_MissingBinary(t *testing.T) {
	p := NewProcessExecutor("/nonexistent/eccs")
	_, err := p.Exec(context.Background(), Invocation{Args: []string{"store"}})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if IsExitError(err) {
		t.Errorf("start failure reported as exit error: %v", err)
	}
}

func TestRedactArgs(t *testing.T) {
	args := []string{"-u", "admin", "-p", "hunter2", "--token", "tok", "store"}
	got := redactArgs(args, "hunter2", "tok", "")
	want := []string{"-u", "admin", "-p", "***", "--token", "***", "store"}
	if !slices.Equal(got, want) {
		t.Errorf("redactArgs = %q, want %q", got, want)
	}
	if args[3] != "hunter2" {
		t.Error("redactArgs modified its input")
	}
}

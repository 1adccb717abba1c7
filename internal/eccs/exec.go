package eccs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single eccs invocation.
const DefaultTimeout = 30 * time.Second

// pipeWaitDelay is how long Exec keeps reading output after the process
// has exited or been killed. A descendant that inherited stdout or stderr
// cannot hold the invocation open past it.
const pipeWaitDelay = 2 * time.Second

// Executor runs one eccs invocation to completion.
//
// A process that ran and exited, whatever its status, yields a Result and
// a nil error. An error means the process could not be started or was
// killed because ctx ended.
type Executor interface {
	Exec(ctx context.Context, inv Invocation) (*Result, error)
}

// ProcessExecutor runs the eccs binary as a child process.
type ProcessExecutor struct {
	// Binary is the path of the eccs executable.
	Binary string
	// Env is appended to the parent environment for every invocation.
	Env []string
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewProcessExecutor returns an executor for the binary at path.
func NewProcessExecutor(path string) *ProcessExecutor {
	return &ProcessExecutor{Binary: path, Timeout: DefaultTimeout}
}

// Exec implements Executor.
func (p *ProcessExecutor) Exec(ctx context.Context, inv Invocation) (*Result, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Binary, inv.Args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Env = append(cmd.Env, inv.Env...)
	cmd.WaitDelay = pipeWaitDelay
	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Args:     inv.Args,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		// ErrWaitDelay: exited 0 but a descendant kept the output open.
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("running %s: %w", p.Binary, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return nil, fmt.Errorf("running %s: %w", p.Binary, err)
}

// redactArgs returns a copy of args with every secret value masked.
func redactArgs(args []string, secrets ...string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		for _, s := range secrets {
			if s != "" && a == s {
				out[i] = "***"
				break
			}
		}
	}
	return out
}

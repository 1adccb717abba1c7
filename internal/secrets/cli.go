package secrets

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// cliRunner runs a backend's command-line tool. Tests replace it.
var cliRunner = func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err = cmd.Run()
	return out.Bytes(), errOut.Bytes(), err
}

// lookPath is exec.LookPath; tests replace it.
var lookPath = exec.LookPath

// runBackendCLI runs name with args and returns trimmed stdout. A missing
// binary is reported with install instructions; a failed run is handed to
// classify together with its stderr.
func runBackendCLI(ctx context.Context, backend, name, install string, classify func(stderr []byte) error, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := lookPath(name); err != nil {
		return "", &BackendError{
			Backend: backend,
			Reason:  name + " CLI not found in PATH",
			Fix:     install,
		}
	}
	stdout, stderr, err := cliRunner(ctx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classify(stderr)
	}
	return strings.TrimSpace(string(stdout)), nil
}

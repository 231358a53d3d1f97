// Package pipewire wraps the PipeWire command-line surface behind typed
// interfaces: discovery snapshots over pw-dump, port listing and linking over
// pw-link, PulseAudio-compat control over pactl, and a supervised long-lived
// pw-cli session for objects that must outlive one-shot invocations.
package pipewire

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/stripdeck/stripdeck/internal/errors"
)

// Runner executes one external command and returns its stdout.
// It exists so the engine can be tested without a running PipeWire daemon.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct {
	// Timeout bounds each invocation; zero means 5 seconds.
	Timeout time.Duration
}

// NewExecRunner returns a Runner with the given per-command timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes the command and returns trimmed stdout. A non-zero exit is
// returned as an enhanced error carrying the command and stderr tail.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		return stdout.String(), errors.New(err).
			Component("pipewire").
			Category(commandCategory(ctx, err)).
			Context("command", name).
			Context("args", strings.Join(args, " ")).
			Context("stderr", tail(stderr.String(), 256)).
			Timing("run_command", time.Since(start)).
			Build()
	}
	return strings.TrimSpace(stdout.String()), nil
}

func commandCategory(ctx context.Context, err error) errors.ErrorCategory {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return errors.CategoryTimeout
	}
	return errors.CategoryCommandExecution
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

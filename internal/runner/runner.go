// Package runner executes external tools (transcoder, pitch model, renderer)
// and captures their output for logging and error reporting.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Result holds command execution output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner abstracts process execution so adapters can be tested with scripted results.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ProcessError represents a failed external process.
type ProcessError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed (exit %d): %s", e.Tool, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s failed (exit %d)", e.Tool, e.ExitCode)
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// Exec runs commands via os/exec.
type Exec struct{}

// NewExec creates a runner backed by os/exec.
func NewExec() *Exec {
	return &Exec{}
}

// Run executes one command and captures stdout, stderr and exit code.
// A non-zero exit is returned as a *ProcessError.
func (r *Exec) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	return result, &ProcessError{
		Tool:     name,
		ExitCode: result.ExitCode,
		Stderr:   tail(result.Stderr, 2048),
		Cause:    err,
	}
}

// Available reports whether a tool can be found on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// tail keeps the last n bytes of s; tool errors are reported at the end of stderr.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExec_RunSuccess(t *testing.T) {
	if !Available("sh") {
		t.Skip("sh not available")
	}

	res, err := NewExec().Run(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("expected stdout 'hello', got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestExec_RunFailureReturnsProcessError(t *testing.T) {
	if !Available("sh") {
		t.Skip("sh not available")
	}

	res, err := NewExec().Run(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProcessError, got %T", err)
	}
	if pe.ExitCode != 3 || res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d / %d", pe.ExitCode, res.ExitCode)
	}
	if !strings.Contains(pe.Stderr, "broken") {
		t.Errorf("expected stderr in error, got %q", pe.Stderr)
	}
}

func TestTail(t *testing.T) {
	if got := tail("abcdef", 3); got != "def" {
		t.Errorf("expected 'def', got %q", got)
	}
	if got := tail("ab", 3); got != "ab" {
		t.Errorf("expected 'ab', got %q", got)
	}
}

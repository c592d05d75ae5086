package conversion

import (
	"context"
	"fmt"
	"os"
	"time"

	"audio-notation-service/internal/runner"
)

// Renderer produces a page image from a serialized score.
type Renderer interface {
	Render(ctx context.Context, scorePath, outputPath string) error
	Name() string
}

// CommandRenderer shells out to a notation engraver such as verovio.
type CommandRenderer struct {
	command string
	timeout time.Duration
	runner  runner.Runner
}

// NewCommandRenderer creates a renderer running `command -o <out> <score>`.
func NewCommandRenderer(command string, timeout time.Duration, r runner.Runner) *CommandRenderer {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if r == nil {
		r = runner.NewExec()
	}
	return &CommandRenderer{command: command, timeout: timeout, runner: r}
}

// Name returns the command name.
func (c *CommandRenderer) Name() string {
	return c.command
}

// Render runs the command and checks that it wrote outputPath.
func (c *CommandRenderer) Render(ctx context.Context, scorePath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.runner.Run(ctx, c.command, "-o", outputPath, scorePath); err != nil {
		return err
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("renderer wrote no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("renderer wrote an empty file")
	}
	return nil
}

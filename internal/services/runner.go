package services

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrPopplerNotFound is returned when the poppler command-line tools are missing.
var ErrPopplerNotFound = errors.New("poppler tools (pdftoppm, pdftotext) not found in PATH")

// CommandRunner runs an external command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// VerifyPoppler checks that pdftoppm and pdftotext are installed and runnable.
func VerifyPoppler(ctx context.Context, runner CommandRunner) error {
	for _, tool := range []string{"pdftoppm", "pdftotext"} {
		if _, err := lookPath(tool); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPopplerNotFound, tool, err)
		}
	}
	// pdftoppm -v prints its version to stderr and exits 0.
	if _, err := runner.Run(ctx, "pdftoppm", "-v"); err != nil {
		return fmt.Errorf("pdftoppm is installed but not runnable: %w", err)
	}
	return nil
}

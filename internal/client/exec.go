package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runCommand executes name with args in dir and returns the combined output.
// A non-zero exit is reported with the last line the process printed.
func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out.Bytes(), ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if line := lastLine(out.Bytes()); line != "" {
				return out.Bytes(), &CommandError{ExitCode: exitErr.ExitCode(), Cause: line}
			}
		}
		return out.Bytes(), err
	}
	return out.Bytes(), nil
}

// CommandError is a non-zero exit of an external tool.
type CommandError struct {
	ExitCode int
	Cause    string
}

func (e *CommandError) Error() string {
	return e.Cause
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func exitDescription(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return fmt.Sprintf("exit status %d: %s", ce.ExitCode, ce.Cause)
	}
	return err.Error()
}

// Package command runs the privileged helper programs the lifecycle jobs
// depend on, such as smartctl and the user folder script.
package command

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external programs.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec runs commands on the host.
type Exec struct{}

// Run executes name with args. A nonzero exit is an error; the returned
// Result still carries the captured output.
func (Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // commands come from configuration
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return result, errors.New(err).
			Component("command").
			Category(errors.CategoryCommandExecution).
			Context("command", strings.Join(append([]string{name}, args...), " ")).
			Context("exit_code", result.ExitCode).
			Build()
	}
	return result, nil
}

// Sudo prefixes name with sudo when elevate is set.
func Sudo(elevate bool, name string, args ...string) (string, []string) {
	if !elevate {
		return name, args
	}
	return "sudo", append([]string{name}, args...)
}

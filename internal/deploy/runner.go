package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Command is one invocation of an external tool
type Command struct {
	Name  string
	Args  []string
	Stdin io.Reader
	// Secret args are masked when the command is logged
	Secret []string
}

func (c Command) String() string {
	s := strings.Join(append([]string{c.Name}, c.Args...), " ")
	for _, secret := range c.Secret {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "****")
		}
	}
	return s
}

// Runner executes external tools
type Runner interface {
	// LookPath reports whether name is installed
	LookPath(name string) error
	// Run streams the command's output to the terminal
	Run(ctx context.Context, cmd Command) error
	// Output captures stdout
	Output(ctx context.Context, cmd Command) ([]byte, error)
}

// CommandError is returned when a tool exits unsuccessfully
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed with exit code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode is the process exit status to use for err: the failing tool's own
// code when there is one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr, Logger: logger}
}

func (r *ExecRunner) LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s is not installed or not in PATH", name)
	}
	return nil
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	r.Logger.Debug("running command", zap.Stringer("cmd", cmd))
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Stdin = cmd.Stdin
	c.Stdout = r.Stdout
	c.Stderr = r.Stderr
	return wrapExit(cmd, c.Run(), "")
}

func (r *ExecRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	r.Logger.Debug("running command", zap.Stringer("cmd", cmd))
	var stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Stdin = cmd.Stdin
	c.Stderr = &stderr
	out, err := c.Output()
	return out, wrapExit(cmd, err, strings.TrimSpace(stderr.String()))
}

func wrapExit(cmd Command, err error, stderr string) error {
	if err == nil {
		return nil
	}
	code := 1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		code = exitErr.ExitCode()
	}
	return &CommandError{Command: cmd.String(), ExitCode: code, Stderr: stderr, Err: err}
}

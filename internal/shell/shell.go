// Package shell runs the external tools (git, npm, pip, docker, yo) the build drives.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// Cmd describes a single subprocess invocation.
type Cmd struct {
	// Name is the executable to run
	Name string

	// Args are the arguments passed to the executable
	Args []string

	// Dir is the working directory
	Dir string

	// Env is appended to the runner's base environment
	Env []string

	// Stdout receives standard output instead of the default sink when set
	Stdout io.Writer
}

// String returns the command line for logging.
func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) error
}

// SubprocessError is returned when a command exits unsuccessfully.
type SubprocessError struct {
	Cmd      string
	Dir      string
	ExitCode int
	Signal   string
	Output   string
	Err      error
}

func (e *SubprocessError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("%s failed with status code %d %s", e.Cmd, e.ExitCode, e.Signal)
	}
	return fmt.Sprintf("%s failed with status code %d", e.Cmd, e.ExitCode)
}

func (e *SubprocessError) Unwrap() error {
	return e.Err
}

// Exec runs commands as local subprocesses.
type Exec struct {
	env     []string
	quiet   bool
	timeout time.Duration
}

// Option configures an Exec runner.
type Option func(*Exec)

// WithQuiet captures output and only emits it when a command fails.
func WithQuiet(quiet bool) Option {
	return func(e *Exec) {
		e.quiet = quiet
	}
}

// WithTimeout bounds every command. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Exec) {
		e.timeout = d
	}
}

// NewExec creates a runner whose children inherit env.
func NewExec(env []string, opts ...Option) *Exec {
	e := &Exec{env: env}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes cmd and waits for it to finish. The logger is taken from ctx.
func (e *Exec) Run(ctx context.Context, cmd Cmd) error {
	logger := log.FromContext(ctx)
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logger.Info("Running command", "cmd", cmd.String(), "dir", cmd.Dir)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = append(append([]string{}, e.env...), cmd.Env...)

	var captured bytes.Buffer
	switch {
	case e.quiet:
		c.Stdout = &captured
		c.Stderr = &captured
	default:
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
	}
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	}

	err := c.Run()
	if err == nil {
		logger.Debug("Command succeeded", "cmd", cmd.Name)
		return nil
	}

	serr := &SubprocessError{
		Cmd:      cmd.String(),
		Dir:      cmd.Dir,
		ExitCode: -1,
		Output:   captured.String(),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		serr.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			serr.Signal = ws.Signal().String()
		}
	}
	if e.quiet && serr.Output != "" {
		logger.Error("Command output", "cmd", cmd.Name, "output", serr.Output)
	}
	logger.Error("Command failed", "cmd", cmd.String(), "code", serr.ExitCode, "signal", serr.Signal)
	return serr
}

// Package shelltest provides a recording shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/phovea/productbuild/internal/shell"
)

// Recorder records every command and optionally fails or reacts to some of them.
type Recorder struct {
	mu   sync.Mutex
	cmds []shell.Cmd

	// Fail returns a non-nil error to make the matching command fail.
	Fail func(cmd shell.Cmd) error

	// Hook is called for every successful command, e.g. to create files a real tool would write.
	Hook func(cmd shell.Cmd) error
}

// Run records cmd.
func (r *Recorder) Run(_ context.Context, cmd shell.Cmd) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()

	if r.Fail != nil {
		if err := r.Fail(cmd); err != nil {
			return err
		}
	}
	if r.Hook != nil {
		return r.Hook(cmd)
	}
	return nil
}

// Commands returns the recorded commands in call order.
func (r *Recorder) Commands() []shell.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shell.Cmd(nil), r.cmds...)
}

// Lines returns the recorded command lines.
func (r *Recorder) Lines() []string {
	var lines []string
	for _, c := range r.Commands() {
		lines = append(lines, c.String())
	}
	return lines
}

// Count returns how many recorded commands start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

// FailOn returns a Fail func failing every command line starting with prefix.
func FailOn(prefix string, code int) func(shell.Cmd) error {
	return func(cmd shell.Cmd) error {
		if strings.HasPrefix(cmd.String(), prefix) {
			return &shell.SubprocessError{Cmd: cmd.String(), Dir: cmd.Dir, ExitCode: code}
		}
		return nil
	}
}

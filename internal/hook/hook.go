// Package hook runs the before and after commands of a build.
package hook

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/charmbracelet/log"
	"github.com/google/shlex"

	"github.com/phovea/productbuild/internal/shell"
)

// Data is the template context of hook commands, e.g. "echo {{ .Version }}".
type Data struct {
	ProductName string
	Version     string
	BuildDir    string

	// Parts are the keys of the selected parts in manifest order
	Parts []string
}

// Runner executes hook commands.
type Runner struct {
	runner shell.Runner
	data   Data
	dir    string
}

// NewRunner creates a runner executing commands in dir.
func NewRunner(runner shell.Runner, data Data, dir string) *Runner {
	return &Runner{runner: runner, data: data, dir: dir}
}

// Apply renders s against the hook data. Unknown fields are an error.
func (r *Runner) Apply(s string) (string, error) {
	t, err := template.New("hook").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, r.data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// Run renders and executes a single command.
func (r *Runner) Run(ctx context.Context, cmd string) error {
	rendered, err := r.Apply(cmd)
	if err != nil {
		return err
	}
	args, err := shlex.Split(rendered)
	if err != nil {
		return fmt.Errorf("invalid hook %q: %w", rendered, err)
	}
	if len(args) == 0 {
		return nil
	}

	log.FromContext(ctx).Info("Running hook", "cmd", rendered)
	if err := r.runner.Run(ctx, shell.Cmd{Name: args[0], Args: args[1:], Dir: r.dir}); err != nil {
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}

// RunAll executes cmds in order and stops at the first failure.
func (r *Runner) RunAll(ctx context.Context, phase string, cmds []string) error {
	if len(cmds) == 0 {
		return nil
	}
	log.Debug("Running hooks", "phase", phase, "count", len(cmds))
	for _, cmd := range cmds {
		if err := r.Run(ctx, cmd); err != nil {
			return fmt.Errorf("%s hooks: %w", phase, err)
		}
	}
	return nil
}

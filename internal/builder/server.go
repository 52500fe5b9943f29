package builder

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/phovea/productbuild/internal/fsutil"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/shell"
	"github.com/phovea/productbuild/internal/workspace"
)

const (
	// Requirements are the runtime requirements of a server workspace
	Requirements = "requirements.txt"

	// DevRequirements are installed unless tests are skipped
	DevRequirements = "requirements_dev.txt"
)

// ServerBuilder builds python source trees
type ServerBuilder struct {
	runner shell.Runner
	opts   Options
}

// NewServerBuilder creates a new server builder
func NewServerBuilder(runner shell.Runner, opts Options) *ServerBuilder {
	return &ServerBuilder{runner: runner, opts: opts.withDefaults()}
}

// Supports returns true for api and service parts
func (b *ServerBuilder) Supports(t product.Type) bool {
	return t.IsServer()
}

// Install installs the runtime and, unless tests are skipped, the dev requirements
func (b *ServerBuilder) Install(ctx context.Context, ws *workspace.Workspace) error {
	files := []string{Requirements}
	if !b.opts.SkipTests {
		files = append(files, DevRequirements)
	}

	for _, file := range files {
		if !fsutil.Exists(filepath.Join(ws.Dir, file)) {
			log.FromContext(ctx).Info("No requirements file, skipping", "file", file)
			continue
		}
		err := b.runner.Run(ctx, shell.Cmd{
			Name: b.opts.Pip,
			Args: []string{"install", "--no-cache-dir", "-r", file},
			Dir:  ws.Dir,
		})
		if err != nil {
			return fmt.Errorf("failed to install %s: %w", file, err)
		}
	}
	return nil
}

// Build builds every repository and aggregates the source trees and the main deploy directory
func (b *ServerBuilder) Build(ctx context.Context, ws *workspace.Workspace) (*Output, error) {
	logger := log.FromContext(ctx)

	for _, c := range ws.Checkouts() {
		err := b.runner.Run(ctx, shell.Cmd{
			Name: b.opts.NPM,
			Args: []string{"run", scriptName("build", "python", c.Hybrid, "")},
			Dir:  c.Dir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build %s: %w", c.Ref.Name, err)
		}
	}

	tree := filepath.Join(ws.Dir, "build", "source")
	for _, c := range ws.Checkouts() {
		src := filepath.Join(c.Dir, "build", "source")
		if err := fsutil.CopyDir(src, tree); err != nil {
			return nil, fmt.Errorf("failed to aggregate source of %s: %w", c.Ref.Name, err)
		}
	}

	deploy := filepath.Join(ws.Main.Dir, "deploy")
	if fsutil.IsDir(deploy) {
		if err := fsutil.CopyDir(deploy, filepath.Join(ws.Dir, "deploy")); err != nil {
			return nil, fmt.Errorf("failed to copy deploy directory: %w", err)
		}
	} else {
		logger.Warn("Main repository has no deploy directory", "repo", ws.Main.Ref.Name)
	}

	logger.Info("Built source tree", "output", tree)
	return &Output{SourceTree: tree}, nil
}

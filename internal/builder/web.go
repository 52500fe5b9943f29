package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/phovea/productbuild/internal/fsutil"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/shell"
	"github.com/phovea/productbuild/internal/workspace"
)

// WebBuilder builds web bundles with npm
type WebBuilder struct {
	runner shell.Runner
	opts   Options
}

// NewWebBuilder creates a new web builder
func NewWebBuilder(runner shell.Runner, opts Options) *WebBuilder {
	return &WebBuilder{runner: runner, opts: opts.withDefaults()}
}

// Supports returns true for static and web parts
func (b *WebBuilder) Supports(t product.Type) bool {
	return t.IsWeb()
}

// Install installs the workspace dependencies
func (b *WebBuilder) Install(ctx context.Context, ws *workspace.Workspace) error {
	if err := b.npm(ctx, ws.Dir, "install"); err != nil {
		return fmt.Errorf("failed to install dependencies: %w", err)
	}
	return nil
}

// Build tests the additionals, bundles the main app and moves the bundle to the build directory
func (b *WebBuilder) Build(ctx context.Context, ws *workspace.Workspace) (*Output, error) {
	logger := log.FromContext(ctx)

	if b.opts.SkipTests {
		logger.Info("Skipping tests")
	} else {
		for _, a := range ws.Additionals {
			if err := b.npm(ctx, ws.Dir, "run", scriptName("test", "web", a.Hybrid, a.Ref.Name)); err != nil {
				return nil, fmt.Errorf("tests of %s failed: %w", a.Ref.Name, err)
			}
		}
	}

	name := ws.Main.Ref.Name
	if err := b.npm(ctx, ws.Dir, "run", scriptName("dist", "web", ws.Main.Hybrid, name)); err != nil {
		return nil, fmt.Errorf("failed to bundle %s: %w", name, err)
	}

	src := filepath.Join(ws.Main.Dir, "dist", name+".tar.gz")
	dst := filepath.Join(b.opts.BuildDir, ws.Part.Key+".tar.gz")
	if err := fsutil.Move(src, dst); err != nil {
		return nil, fmt.Errorf("failed to copy bundle: %w", err)
	}
	logger.Info("Built bundle", "output", dst)

	if err := os.RemoveAll(filepath.Join(ws.Dir, "node_modules")); err != nil {
		logger.Warn("Failed to remove node_modules", "error", err)
	}

	return &Output{Bundle: dst}, nil
}

func (b *WebBuilder) npm(ctx context.Context, dir string, args ...string) error {
	return b.runner.Run(ctx, shell.Cmd{Name: b.opts.NPM, Args: args, Dir: dir})
}

/*
Package builder provides the install and build stages for the different part types.
*/
package builder

import (
	"context"
	"fmt"

	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/shell"
	"github.com/phovea/productbuild/internal/workspace"
)

// Builder interface for type-specific builders
type Builder interface {
	Install(ctx context.Context, ws *workspace.Workspace) error
	Build(ctx context.Context, ws *workspace.Workspace) (*Output, error)
	Supports(t product.Type) bool
}

// Output lists what a build produced.
type Output struct {
	// Bundle is the web bundle archive copied to the build directory
	Bundle string

	// SourceTree is the aggregated server source tree
	SourceTree string
}

// Options are shared by all builders.
type Options struct {
	// BuildDir receives web bundles
	BuildDir string

	// SkipTests skips test scripts and dev requirements
	SkipTests bool

	// NPM is the npm executable
	NPM string

	// Pip is the pip executable
	Pip string
}

func (o Options) withDefaults() Options {
	if o.NPM == "" {
		o.NPM = "npm"
	}
	if o.Pip == "" {
		o.Pip = "pip"
	}
	if o.BuildDir == "" {
		o.BuildDir = "build"
	}
	return o
}

// scriptName returns <script>[:<variant>][:<target>].
func scriptName(script, variant string, hybrid bool, target string) string {
	name := script
	if hybrid {
		name += ":" + variant
	}
	if target != "" {
		name += ":" + target
	}
	return name
}

// GetBuilder returns the builder for a part type
func GetBuilder(t product.Type, runner shell.Runner, opts Options) (Builder, error) {
	builders := []Builder{
		NewWebBuilder(runner, opts),
		NewServerBuilder(runner, opts),
	}

	for _, b := range builders {
		if b.Supports(t) {
			return b, nil
		}
	}

	return nil, fmt.Errorf("no builder for part type %q", t)
}

package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/phovea/productbuild/internal/shell"
)

// Yo runs the phovea workspace generator through the yo executable.
type Yo struct {
	runner shell.Runner
	bin    string
}

// NewYo creates a generator running bin (usually "yo").
func NewYo(runner shell.Runner, bin string) *Yo {
	if bin == "" {
		bin = "yo"
	}
	return &Yo{runner: runner, bin: bin}
}

// Workspace runs `yo phovea:workspace --noAdditionals --defaultApp=<app>` in dir.
func (y *Yo) Workspace(ctx context.Context, dir, defaultApp string) error {
	return y.runner.Run(ctx, shell.Cmd{
		Name: y.bin,
		Args: []string{"phovea:workspace", "--noAdditionals", "--defaultApp=" + defaultApp},
		Dir:  dir,
	})
}

// ShieldMetadata moves the metadata file in dir aside so generators running in
// nested workspaces do not pick it up. The returned func restores it.
func ShieldMetadata(dir string) (func() error, error) {
	path := filepath.Join(dir, MetadataFile)
	shielded := filepath.Join(dir, ".yo-rc_tmp.json")
	if err := os.Rename(path, shielded); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return func() error { return nil }, nil
		}
		return nil, fmt.Errorf("failed to move %s aside: %w", path, err)
	}
	log.Debug("Moved metadata file aside", "path", shielded)
	return func() error {
		return os.Rename(shielded, path)
	}, nil
}

/*
Package git clones part repositories and reads the revision a clone is at.
*/
package git

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/shell"
)

// Info contains git information about a cloned repository
type Info struct {
	// Commit is the current commit hash
	Commit string

	// ShortCommit is the short commit hash
	ShortCommit string

	// Branch is the current branch
	Branch string

	// URL is the repository URL
	URL string
}

// Cloner clones repositories through a shell runner.
type Cloner struct {
	runner shell.Runner
	bin    string
}

// NewCloner creates a cloner using the git binary on PATH.
func NewCloner(runner shell.Runner) *Cloner {
	return &Cloner{runner: runner, bin: "git"}
}

// Clone shallow-clones ref into <dir>/<ref.Name> and returns the checkout path.
func (c *Cloner) Clone(ctx context.Context, ref product.RepoRef, dir string) (string, error) {
	args := []string{"clone", "--depth", "1"}
	if ref.Branch != "" {
		args = append(args, "-b", ref.Branch)
	}
	args = append(args, ref.URL, ref.Name)

	if err := c.runner.Run(ctx, shell.Cmd{Name: c.bin, Args: args, Dir: dir}); err != nil {
		return "", fmt.Errorf("failed to clone %s: %w", ref.Name, err)
	}
	return filepath.Join(dir, ref.Name), nil
}

// GetInfo reads revision information of the clone in dir.
func (c *Cloner) GetInfo(ctx context.Context, dir string) (*Info, error) {
	info := &Info{}

	// Get current commit
	commit, err := c.output(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	info.Commit = commit
	info.ShortCommit = commit
	if len(commit) > 8 {
		info.ShortCommit = commit[:8]
	}

	// Get current branch
	if branch, err := c.output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.Branch = branch
	}

	// Get remote URL
	if url, err := c.output(ctx, dir, "remote", "get-url", "origin"); err == nil {
		info.URL = stripUserinfo(url)
	}

	return info, nil
}

func (c *Cloner) output(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout bytes.Buffer
	if err := c.runner.Run(ctx, shell.Cmd{Name: c.bin, Args: args, Dir: dir, Stdout: &stdout}); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// stripUserinfo removes injected credentials from an https remote.
func stripUserinfo(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	at := strings.Index(rest, "@")
	if at < 0 || at > strings.Index(rest+"/", "/") {
		return url
	}
	return scheme + "://" + rest[at+1:]
}

// Package docker provides Docker image building and publishing for product parts.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/shlex"

	"github.com/phovea/productbuild/internal/config"
	"github.com/phovea/productbuild/internal/fsutil"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/shell"
)

// ProxyVars are forwarded as build arguments when set, matched case-insensitively.
var ProxyVars = []string{"http_proxy", "https_proxy", "no_proxy"}

// MissingDockerfileError is returned when the build context has no Dockerfile.
type MissingDockerfileError struct {
	Context string
	Tried   []string
}

func (e *MissingDockerfileError) Error() string {
	return fmt.Sprintf("Dockerfile not found in %s (tried %s)", e.Context, strings.Join(e.Tried, ", "))
}

// Builder builds, tags and pushes Docker images.
type Builder struct {
	runner    shell.Runner
	env       config.Environment
	extraArgs []string
	bin       string
}

// NewBuilder creates a new Docker builder. buildArgs are extra raw arguments
// for docker build, split with shell quoting rules.
func NewBuilder(runner shell.Runner, env config.Environment, buildArgs string) (*Builder, error) {
	extra, err := shlex.Split(buildArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid docker build args %q: %w", buildArgs, err)
	}
	return &Builder{runner: runner, env: env, extraArgs: extra, bin: "docker"}, nil
}

// Dockerfile returns the Dockerfile of a part type relative to contextDir.
func Dockerfile(contextDir string, t product.Type) (string, error) {
	candidates := []string{
		filepath.Join("deploy", string(t), "Dockerfile"),
		filepath.Join("deploy", "Dockerfile"),
	}
	for _, c := range candidates {
		if fsutil.Exists(filepath.Join(contextDir, c)) {
			return c, nil
		}
	}
	return "", &MissingDockerfileError{Context: contextDir, Tried: candidates}
}

// BuildArgs returns the --build-arg flags and the extra arguments for docker build.
func (b *Builder) BuildArgs() []string {
	var args []string
	for _, kv := range b.env.Matching(ProxyVars...) {
		args = append(args, "--build-arg", kv)
	}
	return append(args, b.extraArgs...)
}

// Build builds image from contextDir with the Dockerfile of the part type.
func (b *Builder) Build(ctx context.Context, image string, t product.Type, contextDir string) error {
	dockerfile, err := Dockerfile(contextDir, t)
	if err != nil {
		return err
	}

	log.FromContext(ctx).Info("Building Docker image", "image", image, "dockerfile", dockerfile)

	args := []string{"build", "-t", image, "-f", dockerfile}
	args = append(args, b.BuildArgs()...)
	args = append(args, ".")

	if err := b.runner.Run(ctx, shell.Cmd{Name: b.bin, Args: args, Dir: contextDir}); err != nil {
		return fmt.Errorf("docker build failed: %w", err)
	}
	return nil
}

// Tag tags image with every entry of tags.
func (b *Builder) Tag(ctx context.Context, image string, tags []string) error {
	for _, tag := range tags {
		if tag == image {
			continue
		}
		if err := b.runner.Run(ctx, shell.Cmd{Name: b.bin, Args: []string{"tag", image, tag}}); err != nil {
			return fmt.Errorf("failed to tag %s: %w", tag, err)
		}
	}
	return nil
}

// Push pushes every entry of tags.
func (b *Builder) Push(ctx context.Context, tags []string) error {
	logger := log.FromContext(ctx)
	for _, tag := range tags {
		if err := b.runner.Run(ctx, shell.Cmd{Name: b.bin, Args: []string{"push", tag}}); err != nil {
			return fmt.Errorf("failed to push %s: %w", tag, err)
		}
		logger.Info("Pushed Docker image", "tag", tag)
	}
	return nil
}

// RemoveImages removes local images whose reference contains product.
func (b *Builder) RemoveImages(ctx context.Context, product string) error {
	var out bytes.Buffer
	err := b.runner.Run(ctx, shell.Cmd{
		Name:   b.bin,
		Args:   []string{"images", "--format", "{{.Repository}}:{{.Tag}}"},
		Stdout: &out,
	})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	var refs []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && strings.Contains(line, product) && !strings.HasSuffix(line, ":<none>") {
			refs = append(refs, line)
		}
	}
	if len(refs) == 0 {
		log.FromContext(ctx).Debug("No images to remove", "product", product)
		return nil
	}

	log.FromContext(ctx).Info("Removing images", "count", len(refs))
	if err := b.runner.Run(ctx, shell.Cmd{Name: b.bin, Args: append([]string{"rmi"}, refs...)}); err != nil {
		return fmt.Errorf("failed to remove images: %w", err)
	}
	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/phovea/productbuild/internal/archive"
	"github.com/phovea/productbuild/internal/artifact"
	"github.com/phovea/productbuild/internal/builder"
	"github.com/phovea/productbuild/internal/data"
	"github.com/phovea/productbuild/internal/docker"
	"github.com/phovea/productbuild/internal/git"
	"github.com/phovea/productbuild/internal/parallel"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/shell"
	"github.com/phovea/productbuild/internal/workspace"
)

// Stages performs the work of each stage for one part.
type Stages interface {
	Prepare(ctx context.Context, part *product.Part) (*workspace.Workspace, error)
	Install(ctx context.Context, ws *workspace.Workspace) error
	Build(ctx context.Context, ws *workspace.Workspace) (*builder.Output, error)
	Dockerize(ctx context.Context, ws *workspace.Workspace) error
	Push(ctx context.Context, part *product.Part) error
}

// DataDir is where data sources land inside a workspace.
var DataDir = filepath.Join("build", "source", "_data")

// ToolchainOptions configure the external tools.
type ToolchainOptions struct {
	Builder     builder.Options
	SaveImage   bool
	ImageFormat string

	// ArchiveSources packs server source trees into the build directory
	ArchiveSources bool
	SourceFormat   string

	// DataWorkers bounds concurrent data downloads per part; zero fetches all at once
	DataWorkers int
}

// Toolchain runs the stages with git, the generator, npm, pip and docker.
type Toolchain struct {
	runner    shell.Runner
	preparer  *workspace.Preparer
	cloner    *git.Cloner
	docker    *docker.Builder
	data      *data.Downloader
	artifacts *artifact.Manager
	opts      ToolchainOptions
}

// NewToolchain creates the default Stages implementation.
func NewToolchain(runner shell.Runner, preparer *workspace.Preparer, cloner *git.Cloner, dockerBuilder *docker.Builder, downloader *data.Downloader, artifacts *artifact.Manager, opts ToolchainOptions) *Toolchain {
	return &Toolchain{
		runner:    runner,
		preparer:  preparer,
		cloner:    cloner,
		docker:    dockerBuilder,
		data:      downloader,
		artifacts: artifacts,
		opts:      opts,
	}
}

// Prepare clones and scaffolds the part workspace.
func (t *Toolchain) Prepare(ctx context.Context, part *product.Part) (*workspace.Workspace, error) {
	return t.preparer.Prepare(ctx, part)
}

// Install installs the workspace dependencies.
func (t *Toolchain) Install(ctx context.Context, ws *workspace.Workspace) error {
	b, err := builder.GetBuilder(ws.Part.Type, t.runner, t.opts.Builder)
	if err != nil {
		return err
	}
	return b.Install(ctx, ws)
}

// Build builds the bundle or source tree and records it.
func (t *Toolchain) Build(ctx context.Context, ws *workspace.Workspace) (*builder.Output, error) {
	b, err := builder.GetBuilder(ws.Part.Type, t.runner, t.opts.Builder)
	if err != nil {
		return nil, err
	}
	out, err := b.Build(ctx, ws)
	if err != nil {
		return nil, err
	}

	extra := map[string]any{"revisions": t.revisions(ctx, ws)}
	if out.Bundle != "" {
		t.artifacts.Add(artifact.Artifact{Name: filepath.Base(out.Bundle), Path: out.Bundle, Type: artifact.TypeBundle, Part: ws.Part.Key, Extra: extra})
	}
	if out.SourceTree != "" {
		t.artifacts.Add(artifact.Artifact{Name: "source", Path: out.SourceTree, Type: artifact.TypeSourceTree, Part: ws.Part.Key, Extra: extra})

		if t.opts.ArchiveSources {
			dest := filepath.Join(t.opts.Builder.BuildDir, archive.Name(ws.Part.Key, "source", t.opts.SourceFormat))
			if err := archive.Dir(out.SourceTree, dest, t.opts.SourceFormat, "source"); err != nil {
				return nil, fmt.Errorf("failed to archive source tree: %w", err)
			}
			log.FromContext(ctx).Info("Archived source tree", "path", dest)
			t.artifacts.Add(artifact.Artifact{Name: filepath.Base(dest), Path: dest, Type: artifact.TypeBundle, Part: ws.Part.Key, Extra: extra})
		}
	}
	return out, nil
}

// revisions returns the short commit of every checkout, best effort.
func (t *Toolchain) revisions(ctx context.Context, ws *workspace.Workspace) map[string]string {
	revs := make(map[string]string)
	if t.cloner == nil {
		return revs
	}
	for _, c := range ws.Checkouts() {
		info, err := t.cloner.GetInfo(ctx, c.Dir)
		if err != nil {
			log.FromContext(ctx).Debug("Cannot read revision", "repo", c.Ref.Name, "error", err)
			continue
		}
		revs[c.Ref.Name] = info.ShortCommit
	}
	return revs
}

// Dockerize fetches the data sources, builds and tags the image and optionally saves it.
// Data sources only reach server images; web images are built from the main checkout.
func (t *Toolchain) Dockerize(ctx context.Context, ws *workspace.Workspace) error {
	part := ws.Part

	if len(part.Data) > 0 && !part.IsServerType {
		log.FromContext(ctx).Warn("Ignoring data sources", "type", part.Type, "count", len(part.Data))
	}
	if len(part.Data) > 0 && part.IsServerType {
		dest := filepath.Join(ws.Dir, DataDir)
		err := parallel.ForEach(ctx, part.Data, t.opts.DataWorkers, func(ctx context.Context, src product.DataSource) error {
			path, err := t.data.Fetch(ctx, src, dest, ws.Dir)
			if err != nil {
				return err
			}
			t.artifacts.Add(artifact.Artifact{Name: filepath.Base(path), Path: path, Type: artifact.TypeData, Part: part.Key})
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to fetch data: %w", err)
		}
	}

	contextDir := ws.Dir
	if part.IsWebType {
		contextDir = ws.Main.Dir
	}
	if err := t.docker.Build(ctx, part.Image, part.Type, contextDir); err != nil {
		return err
	}
	if err := t.docker.Tag(ctx, part.Image, part.DockerTags); err != nil {
		return err
	}
	t.artifacts.Add(artifact.Artifact{
		Name: part.Image,
		Type: artifact.TypeDockerImage,
		Part: part.Key,
		Extra: map[string]any{
			"tags": part.DockerTags,
		},
	})

	if t.opts.SaveImage {
		out := filepath.Join(t.opts.Builder.BuildDir, docker.ArchiveName(part.Key, t.opts.ImageFormat))
		if err := t.docker.Save(ctx, part.Image, out, t.opts.ImageFormat); err != nil {
			return err
		}
		t.artifacts.Add(artifact.Artifact{Name: filepath.Base(out), Path: out, Type: artifact.TypeImageArchive, Part: part.Key})
	}
	return nil
}

// Push pushes every docker tag of the part.
func (t *Toolchain) Push(ctx context.Context, part *product.Part) error {
	if len(part.DockerTags) == 0 {
		log.FromContext(ctx).Info("No docker tags to push")
		return nil
	}
	return t.docker.Push(ctx, part.DockerTags)
}

// RemoveImages removes previous local images of the product.
func (t *Toolchain) RemoveImages(ctx context.Context, productName string) error {
	return t.docker.RemoveImages(ctx, productName)
}

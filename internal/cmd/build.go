package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/phovea/productbuild/internal/artifact"
	"github.com/phovea/productbuild/internal/builder"
	"github.com/phovea/productbuild/internal/cache"
	"github.com/phovea/productbuild/internal/checksum"
	"github.com/phovea/productbuild/internal/config"
	"github.com/phovea/productbuild/internal/data"
	"github.com/phovea/productbuild/internal/deps"
	"github.com/phovea/productbuild/internal/docker"
	"github.com/phovea/productbuild/internal/git"
	"github.com/phovea/productbuild/internal/hook"
	"github.com/phovea/productbuild/internal/pipeline"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/repo"
	"github.com/phovea/productbuild/internal/shell"
	"github.com/phovea/productbuild/internal/version"
	"github.com/phovea/productbuild/internal/workspace"
)

// productInfo is the product a run builds.
type productInfo struct {
	Name    string
	Version string
	Parts   []*product.Part
}

// loadProduct resolves the product name and version and derives the selected parts.
func loadProduct(opts config.Options, env config.Environment, now time.Time) (*productInfo, error) {
	name, base := opts.ProductName, ""
	pkg, err := version.ReadPackage(opts.PackageFile)
	switch {
	case err == nil:
		base = pkg.Version
		if name == "" {
			name = version.ProductName(pkg.Name)
		}
	case name == "" || opts.Version == "":
		return nil, err
	}

	v, err := version.Resolve(base, opts.Version, now)
	if err != nil {
		return nil, err
	}

	manifest, err := product.LoadManifest(opts.ManifestFile)
	if err != nil {
		return nil, err
	}

	parts, err := product.Build(manifest, product.Params{
		ProductName: name,
		Version:     v,
		Services:    opts.Services,
		DockerTags:  opts.DockerTags,
		Registry:    opts.DockerRegistry,
		TmpRoot:     opts.TmpDir,
		Resolver:    resolver(opts, env),
	})
	if err != nil {
		return nil, err
	}
	return &productInfo{Name: name, Version: v, Parts: parts}, nil
}

func resolver(opts config.Options, env config.Environment) repo.Resolver {
	return repo.Resolver{UseSSH: opts.UseSSH, Org: opts.Org, Lookup: env.Lookup}
}

func hookData(info *productInfo, opts config.Options) hook.Data {
	d := hook.Data{ProductName: info.Name, Version: info.Version, BuildDir: opts.BuildDir}
	for _, p := range info.Parts {
		d.Parts = append(d.Parts, p.Key)
	}
	return d
}

func runBuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err := loadOptions()
	if err != nil {
		return err
	}

	env := config.CaptureEnvironment().ForRun(opts)
	info, err := loadProduct(opts, env, time.Now())
	if err != nil {
		return err
	}
	log.Info("Building product", "product", info.Name, "version", info.Version, "parts", len(info.Parts))

	restore, err := workspace.ShieldMetadata(".")
	if err != nil {
		return err
	}
	defer func() {
		if err := restore(); err != nil {
			log.Warn("Failed to restore metadata file", "error", err)
		}
	}()

	runner := shell.NewExec(env.Vars(), shell.WithQuiet(opts.Quiet), shell.WithTimeout(opts.Timeout))
	cloner := git.NewCloner(runner)
	preparer := workspace.NewPreparer(cloner, workspace.NewYo(runner, opts.Generator),
		workspace.WithTemplates(opts.TemplatesDir),
		workspace.WithInjectVersion(opts.InjectVersion),
	)
	dockerBuilder, err := docker.NewBuilder(runner, env, opts.DockerBuildArgs)
	if err != nil {
		return err
	}
	dataOpts := []data.Option{}
	if opts.CacheData {
		c, err := cache.New(cache.Options{Dir: opts.CacheDir})
		if err != nil {
			return err
		}
		dataOpts = append(dataOpts, data.WithCache(c))
	}
	downloader := data.NewDownloader(opts.DataBaseURL, cloner, resolver(opts, env), dataOpts...)

	artifacts := artifact.NewManager()
	toolchain := pipeline.NewToolchain(runner, preparer, cloner, dockerBuilder, downloader, artifacts, pipeline.ToolchainOptions{
		Builder: builder.Options{
			BuildDir:  opts.BuildDir,
			SkipTests: opts.SkipTests,
		},
		SaveImage:      opts.SaveImage,
		ImageFormat:    opts.ImageFormat,
		ArchiveSources: opts.ArchiveSource,
		SourceFormat:   opts.SourceFormat,
	})

	tools := deps.Required(info.Parts, deps.Options{Generator: opts.Generator, SkipDocker: opts.SkipDocker})
	if err := deps.Check(tools, nil); err != nil {
		return err
	}

	hooks := hook.NewRunner(runner, hookData(info, opts), ".")
	if err := hooks.RunAll(ctx, "before", opts.Before); err != nil {
		return err
	}

	if opts.RemoveImages && !opts.SkipDocker {
		if err := toolchain.RemoveImages(ctx, info.Name); err != nil {
			log.Warn("Failed to remove previous images", "product", info.Name, "error", err)
		}
	}

	p := pipeline.New(toolchain, artifacts, pipeline.Options{
		BuildDir:          opts.BuildDir,
		Serial:            opts.Serial,
		Parallelism:       opts.Parallelism,
		SkipDocker:        opts.SkipDocker,
		SkipPush:          opts.SkipPush,
		ChecksumAlgorithm: checksum.Algorithm(opts.Checksum),
		Output:            cmd.OutOrStdout(),
	})
	if _, err := p.Run(ctx, info.Parts); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	if err := hooks.RunAll(ctx, "after", opts.After); err != nil {
		return err
	}

	log.Info("Build outputs", "dir", filepath.Clean(opts.BuildDir))
	return nil
}

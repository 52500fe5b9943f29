/*
Package pipeline runs the per-part stage pipelines of a product build.

Every part moves through prepare, install, build, dockerize and push. Parts are
isolated: a failing part is recorded and logged but never cancels its siblings.
Once all parts have settled the docker-compose file, the checksum file and the
artifact manifest are written and a summary is printed.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/phovea/productbuild/internal/artifact"
	"github.com/phovea/productbuild/internal/checksum"
	"github.com/phovea/productbuild/internal/compose"
	"github.com/phovea/productbuild/internal/parallel"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/workspace"
)

// ErrPartsFailed is returned by Run when at least one part failed.
var ErrPartsFailed = errors.New("one or more parts failed")

const (
	// ComposeFile is the synthesized compose file in the build directory
	ComposeFile = "docker-compose.yml"

	// ManifestFile is the artifact manifest in the build directory
	ManifestFile = "artifacts.json"
)

// Options configure a pipeline run.
type Options struct {
	BuildDir string

	// Serial runs parts one after another
	Serial bool

	// Parallelism bounds concurrently running parts; zero runs all at once
	Parallelism int

	SkipDocker bool
	SkipPush   bool

	ChecksumAlgorithm checksum.Algorithm

	// Output receives the summary; defaults to os.Stdout
	Output io.Writer
}

// Pipeline orchestrates the part pipelines.
type Pipeline struct {
	stages    Stages
	artifacts *artifact.Manager
	options   Options
}

// Report is the outcome of a run.
type Report struct {
	// Results are in part order
	Results []*PartResult

	ComposeFile  string
	ChecksumFile string
	Duration     time.Duration
}

// Failed returns the results of the failed parts.
func (r *Report) Failed() []*PartResult {
	var failed []*PartResult
	for _, res := range r.Results {
		if !res.Succeeded() {
			failed = append(failed, res)
		}
	}
	return failed
}

// New creates a new pipeline.
func New(stages Stages, artifacts *artifact.Manager, opts Options) *Pipeline {
	if artifacts == nil {
		artifacts = artifact.NewManager()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Pipeline{
		stages:    stages,
		artifacts: artifacts,
		options:   opts,
	}
}

// Run builds every part and writes the run-wide outputs.
// It returns ErrPartsFailed together with the report when any part failed.
func (p *Pipeline) Run(ctx context.Context, parts []*product.Part) (*Report, error) {
	start := time.Now()
	if len(parts) == 0 {
		return nil, fmt.Errorf("no parts to build")
	}
	if err := os.MkdirAll(p.options.BuildDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	report := &Report{Results: make([]*PartResult, len(parts))}
	tasks := make([]parallel.Task, len(parts))
	for i, part := range parts {
		res := &PartResult{Part: part, State: StateCreated}
		report.Results[i] = res
		tasks[i] = parallel.NewTask(part.Key, func(ctx context.Context) error {
			return p.runPart(ctx, res)
		})
	}

	workers := p.options.Parallelism
	if p.options.Serial {
		workers = 1
	}
	log.Info("Building parts", "count", len(parts), "workers", workerLabel(workers, len(parts)))

	executor := parallel.NewExecutor(
		parallel.WithWorkers(workers),
		parallel.WithProgress(func(completed, total int, result parallel.Result) {
			log.Debug("Part settled", "part", result.Task.Name(), "progress", fmt.Sprintf("%d/%d", completed, total))
		}),
	)
	results := executor.Execute(ctx, tasks)

	if err := p.finalize(report); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	p.printSummary(report)

	if errs := parallel.Errors(results); len(errs) > 0 {
		log.Error("Build finished with errors", "failed", len(errs), "duration", report.Duration.Round(time.Second))
		return report, fmt.Errorf("%w: %w", ErrPartsFailed, errors.Join(errs...))
	}
	log.Info("Build completed successfully", "duration", report.Duration.Round(time.Second))
	return report, nil
}

func workerLabel(workers, parts int) string {
	if workers == 0 || workers > parts {
		return "all"
	}
	return fmt.Sprint(workers)
}

// runPart moves one part through its stages.
func (p *Pipeline) runPart(ctx context.Context, res *PartResult) error {
	part := res.Part
	logger := partLogger(part)
	ctx = log.WithContext(ctx, logger)

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
	}()

	fail := func(s Stage, err error) error {
		err = res.fail(s, err)
		logger.Error("Stage failed", "stage", s, "error", errors.Unwrap(err))
		return err
	}

	logger.Info("Preparing workspace", "repo", part.Repo.Name, "branch", part.Repo.Branch)
	ws, err := p.stages.Prepare(ctx, part)
	if err != nil {
		return fail(StagePrepare, err)
	}
	res.Workspace = ws
	res.complete(StagePrepare)

	logger.Info("Installing dependencies")
	if err := p.stages.Install(ctx, ws); err != nil {
		return fail(StageInstall, err)
	}
	res.complete(StageInstall)

	logger.Info("Building", "type", part.Type)
	out, err := p.stages.Build(ctx, ws)
	if err != nil {
		return fail(StageBuild, err)
	}
	res.Output = out

	entry, err := loadComposeEntry(ws)
	if err != nil {
		return fail(StageBuild, err)
	}
	res.Compose = entry
	res.complete(StageBuild)

	if p.options.SkipDocker {
		logger.Info("Skipping docker", "state", res.State)
		return nil
	}

	logger.Info("Building docker image", "image", part.Image)
	if err := p.stages.Dockerize(ctx, ws); err != nil {
		return fail(StageDockerize, err)
	}
	res.complete(StageDockerize)

	if p.options.SkipPush {
		logger.Info("Skipping push", "state", res.State)
		return nil
	}

	logger.Info("Pushing docker image", "tags", len(part.DockerTags))
	if err := p.stages.Push(ctx, part); err != nil {
		return fail(StagePush, err)
	}
	res.complete(StagePush)

	logger.Info("Part completed", "state", res.State, "artifacts", len(p.artifacts.Filter(artifact.ByPart(part.Key))))
	return nil
}

// loadComposeEntry reads the compose fragments of the main and additional checkouts.
func loadComposeEntry(ws *workspace.Workspace) (*compose.Entry, error) {
	own, err := compose.LoadFragment(ws.Main.Dir)
	if err != nil {
		return nil, err
	}
	entry := &compose.Entry{Part: ws.Part, Own: own}
	for _, c := range ws.Additionals {
		f, err := compose.LoadFragment(c.Dir)
		if err != nil {
			return nil, err
		}
		entry.Additionals = append(entry.Additionals, f)
	}
	return entry, nil
}

// finalize writes the compose file, the checksum file and the artifact manifest.
func (p *Pipeline) finalize(report *Report) error {
	var entries []compose.Entry
	for _, res := range report.Results {
		if res.Succeeded() && res.Compose != nil {
			entries = append(entries, *res.Compose)
		}
	}

	doc, err := compose.Synthesize(entries)
	if err != nil {
		return fmt.Errorf("failed to synthesize docker-compose: %w", err)
	}
	composePath := filepath.Join(p.options.BuildDir, ComposeFile)
	if err := compose.Write(composePath, doc); err != nil {
		return fmt.Errorf("failed to write docker-compose: %w", err)
	}
	report.ComposeFile = composePath
	p.artifacts.Add(artifact.Artifact{Name: ComposeFile, Path: composePath, Type: artifact.TypeCompose})
	log.Info("Wrote docker-compose", "path", composePath, "parts", len(entries))

	sumPath, err := checksum.NewGenerator(p.options.ChecksumAlgorithm, p.options.BuildDir, p.artifacts).Run()
	if err != nil {
		return fmt.Errorf("failed to write checksums: %w", err)
	}
	report.ChecksumFile = sumPath

	manifestPath := filepath.Join(p.options.BuildDir, ManifestFile)
	if err := p.artifacts.Save(manifestPath); err != nil {
		return err
	}
	log.Debug("Wrote artifact manifest", "path", manifestPath, "artifacts", p.artifacts.Count())
	return nil
}

// partLogger returns a logger prefixed with the part key in the part color.
func partLogger(part *product.Part) *log.Logger {
	prefix := part.Key
	if part.Color != "" {
		prefix = lipgloss.NewStyle().Foreground(lipgloss.Color(part.Color)).Render(part.Key)
	}
	return log.Default().WithPrefix(prefix)
}

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func (p *Pipeline) printSummary(report *Report) {
	width := 0
	for _, res := range report.Results {
		width = max(width, len(res.Part.Key))
	}

	fmt.Fprintln(p.options.Output, "\nSummary:")
	for _, res := range report.Results {
		status := successStyle.Render("SUCCESS")
		if !res.Succeeded() {
			status = errorStyle.Render("ERROR")
		}
		fmt.Fprintln(p.options.Output, summaryLine(res.Part.Key, width)+status)
	}
}

// summaryLine pads name with dots so the statuses of all parts line up.
func summaryLine(name string, width int) string {
	return " " + name + strings.Repeat(".", 3+width-len(name))
}

/*
Package workspace prepares the isolated build directory of a product part.

Preparing a part recreates its temp directory, clones the main repository and
every additional repository in parallel, resolves each clone's plugin type,
runs the scaffolding generator and finally patches the generated workspace.
*/
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/phovea/productbuild/internal/fsutil"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/version"
)

// MetadataFile holds the generator configuration of a cloned repository.
const MetadataFile = ".yo-rc.json"

// PreferredGenerator is consulted first when a metadata file lists several generators.
const PreferredGenerator = "generator-phovea"

// Checkout is a cloned repository inside a workspace.
type Checkout struct {
	Ref        product.RepoRef
	Dir        string
	PluginType string

	// Hybrid is set when the plugin type spans two toolchains, e.g. "lib-slib"
	Hybrid bool
}

// Workspace is a prepared part directory.
type Workspace struct {
	Part        *product.Part
	Dir         string
	Main        Checkout
	Additionals []Checkout
}

// Checkouts returns the main checkout followed by the additionals.
func (w *Workspace) Checkouts() []Checkout {
	return append([]Checkout{w.Main}, w.Additionals...)
}

// Lookup returns the checkout of the repository named name.
func (w *Workspace) Lookup(name string) (Checkout, bool) {
	for _, c := range w.Checkouts() {
		if c.Ref.Name == name {
			return c, true
		}
	}
	return Checkout{}, false
}

// PluginTypeError reports a missing or malformed metadata file.
type PluginTypeError struct {
	Repo   string
	Path   string
	Reason string
}

func (e *PluginTypeError) Error() string {
	return fmt.Sprintf("cannot resolve plugin type of %s from %s: %s", e.Repo, e.Path, e.Reason)
}

// Cloner clones a repository into dir and returns the checkout path.
type Cloner interface {
	Clone(ctx context.Context, ref product.RepoRef, dir string) (string, error)
}

// Generator scaffolds a build workspace in dir around the default app.
type Generator interface {
	Workspace(ctx context.Context, dir, defaultApp string) error
}

// Preparer prepares part workspaces.
type Preparer struct {
	cloner        Cloner
	generator     Generator
	templatesDir  string
	injectVersion bool
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithTemplates overlays <dir>/<type>/ and <dir>/<key>/ onto every workspace.
func WithTemplates(dir string) Option {
	return func(p *Preparer) {
		p.templatesDir = dir
	}
}

// WithInjectVersion writes the part version into the workspace package.json.
func WithInjectVersion(inject bool) Option {
	return func(p *Preparer) {
		p.injectVersion = inject
	}
}

// NewPreparer creates a Preparer.
func NewPreparer(cloner Cloner, generator Generator, opts ...Option) *Preparer {
	p := &Preparer{cloner: cloner, generator: generator}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare runs the prepare stage for part.
func (p *Preparer) Prepare(ctx context.Context, part *product.Part) (*Workspace, error) {
	logger := log.FromContext(ctx)

	if err := fsutil.Recreate(part.TmpDir); err != nil {
		return nil, err
	}

	checkouts, err := p.cloneAll(ctx, part.TmpDir, part.Repos())
	if err != nil {
		return nil, err
	}
	ws := &Workspace{Part: part, Dir: part.TmpDir, Main: checkouts[0], Additionals: checkouts[1:]}
	logger.Info("Cloned repositories", "count", len(checkouts), "pluginType", ws.Main.PluginType, "hybrid", ws.Main.Hybrid)

	if err := p.generator.Workspace(ctx, ws.Dir, ws.Main.Ref.Name); err != nil {
		return nil, fmt.Errorf("failed to scaffold workspace: %w", err)
	}

	if err := p.patchVersion(ctx, ws); err != nil {
		return nil, err
	}

	if err := p.overlayTemplates(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (p *Preparer) cloneAll(ctx context.Context, dir string, refs []product.RepoRef) ([]Checkout, error) {
	checkouts := make([]Checkout, len(refs))
	g, ctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			path, err := p.cloner.Clone(ctx, ref, dir)
			if err != nil {
				return err
			}
			pluginType, err := ResolvePluginType(path, ref.Name)
			if err != nil {
				return err
			}
			checkouts[i] = Checkout{
				Ref:        ref,
				Dir:        path,
				PluginType: pluginType,
				Hybrid:     IsHybrid(pluginType),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return checkouts, nil
}

// ResolvePluginType reads the plugin type from the metadata file of the checkout in dir.
func ResolvePluginType(dir, repo string) (string, error) {
	path := filepath.Join(dir, MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &PluginTypeError{Repo: repo, Path: path, Reason: "metadata file not readable"}
	}

	var generators map[string]struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &generators); err != nil {
		return "", &PluginTypeError{Repo: repo, Path: path, Reason: err.Error()}
	}

	keys := make([]string, 0, len(generators))
	for k := range generators {
		if strings.HasPrefix(k, "generator-") {
			keys = append(keys, k)
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i] == PreferredGenerator || keys[j] == PreferredGenerator {
			return keys[i] == PreferredGenerator
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if t := strings.TrimSpace(generators[k].Type); t != "" {
			return t, nil
		}
	}
	return "", &PluginTypeError{Repo: repo, Path: path, Reason: "no generator entry declares a type"}
}

// IsHybrid reports whether pluginType spans two toolchains.
func IsHybrid(pluginType string) bool {
	return strings.Contains(pluginType, "-")
}

func (p *Preparer) patchVersion(ctx context.Context, ws *Workspace) error {
	path := filepath.Join(ws.Dir, "package.json")
	if !fsutil.Exists(path) {
		log.FromContext(ctx).Debug("Workspace has no package.json, skipping version patch")
		return nil
	}

	v := ws.Part.Version
	if !p.injectVersion {
		pkg, err := version.ReadPackage(filepath.Join(ws.Main.Dir, "package.json"))
		if err != nil {
			return err
		}
		v = pkg.Version
	}
	if v == "" {
		return nil
	}

	if err := setPackageVersion(path, v); err != nil {
		return fmt.Errorf("failed to patch workspace version: %w", err)
	}
	log.FromContext(ctx).Debug("Patched workspace version", "version", v)
	return nil
}

func setPackageVersion(path, v string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var pkg map[string]any
	if err := json.Unmarshal(data, &pkg); err != nil {
		return err
	}
	pkg["version"] = v
	out, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}

func (p *Preparer) overlayTemplates(ctx context.Context, ws *Workspace) error {
	if p.templatesDir == "" {
		return nil
	}
	for _, name := range []string{string(ws.Part.Type), ws.Part.Key} {
		src := filepath.Join(p.templatesDir, name)
		if !fsutil.IsDir(src) {
			continue
		}
		log.FromContext(ctx).Info("Applying templates", "dir", src)
		if err := fsutil.CopyDir(src, ws.Dir); err != nil {
			return fmt.Errorf("failed to apply templates %s: %w", src, err)
		}
	}
	return nil
}

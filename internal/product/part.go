package product

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/phovea/productbuild/internal/repo"
)

// Type classifies a product part.
type Type string

const (
	TypeStatic  Type = "static"
	TypeWeb     Type = "web"
	TypeAPI     Type = "api"
	TypeService Type = "service"
)

// Valid reports whether t is one of the four known part types.
func (t Type) Valid() bool {
	return t.IsWeb() || t.IsServer()
}

// IsWeb reports whether t builds a web bundle.
func (t Type) IsWeb() bool {
	return t == TypeStatic || t == TypeWeb
}

// IsServer reports whether t builds a python source tree.
func (t Type) IsServer() bool {
	return t == TypeAPI || t == TypeService
}

// DefaultBranch is cloned when a spec names none.
const DefaultBranch = "master"

// Palette is the rotating set of log colors assigned to parts.
var Palette = []string{"12", "10", "13", "14", "11", "9"}

// ConfigError reports an invalid manifest or part selection.
type ConfigError struct {
	Part   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("invalid product configuration")
	if e.Part != "" {
		fmt.Fprintf(&b, ": part %q", e.Part)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

// RepoRef is a resolved repository of a part.
type RepoRef struct {
	// Key is the additionals sub-key; empty for the main repository
	Key    string
	Ref    string
	Name   string
	URL    string
	Branch string
}

// Part is the fully defaulted description of one buildable unit.
type Part struct {
	Key          string
	Type         Type
	Repo         RepoRef
	Additionals  []RepoRef
	Data         []DataSource
	Image        string
	Version      string
	TmpDir       string
	Color        string
	DockerTags   []string
	IsWebType    bool
	IsServerType bool
}

// Repos returns the main repository followed by the additionals.
func (p *Part) Repos() []RepoRef {
	return append([]RepoRef{p.Repo}, p.Additionals...)
}

// Params are the run-wide inputs to part derivation.
type Params struct {
	ProductName string
	Version     string

	// Services restricts the build to these keys; empty selects all
	Services []string

	// DockerTags are applied to every part
	DockerTags []string

	// Registry prefixes pushed images
	Registry string

	// TmpRoot holds the per-part scratch directories
	TmpRoot string

	Resolver repo.Resolver
}

// Build validates the manifest and derives the selected parts in manifest order.
func Build(m *Manifest, p Params) ([]*Part, error) {
	if m.Len() == 0 {
		return nil, &ConfigError{Reason: "manifest declares no parts"}
	}
	for _, spec := range m.Parts {
		if err := validate(spec); err != nil {
			return nil, err
		}
	}

	selected, err := selectSpecs(m, p.Services)
	if err != nil {
		return nil, err
	}

	single := len(selected) == 1
	tmpDirs := make(map[string]bool, len(selected))
	parts := make([]*Part, 0, len(selected))
	for i, spec := range selected {
		part, err := derive(spec, i, single, p)
		if err != nil {
			return nil, err
		}
		for tmpDirs[part.TmpDir] {
			part.TmpDir = fmt.Sprintf("%s_%d", part.TmpDir, i)
		}
		tmpDirs[part.TmpDir] = true
		parts = append(parts, part)
	}
	return parts, nil
}

func validate(spec Spec) error {
	switch {
	case spec.Type == "":
		return &ConfigError{Part: spec.Key, Field: "type", Reason: "missing"}
	case !spec.Type.Valid():
		return &ConfigError{Part: spec.Key, Field: "type", Reason: fmt.Sprintf("unknown type %q, expected one of static, web, api, service", spec.Type)}
	case strings.TrimSpace(spec.Repo) == "":
		return &ConfigError{Part: spec.Key, Field: "repo", Reason: "missing"}
	}
	for i, a := range spec.Additionals {
		if strings.TrimSpace(a.Repo) == "" {
			name := a.Key
			if name == "" {
				name = fmt.Sprintf("[%d]", i)
			}
			return &ConfigError{Part: spec.Key, Field: "additionals." + name + ".repo", Reason: "missing"}
		}
	}
	return nil
}

func selectSpecs(m *Manifest, services []string) ([]Spec, error) {
	if len(services) == 0 {
		return m.Parts, nil
	}
	wanted := make(map[string]bool, len(services))
	for _, key := range services {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := m.Lookup(key); !ok {
			return nil, &ConfigError{Part: key, Reason: "requested part is not declared in the manifest"}
		}
		wanted[key] = true
	}
	var selected []Spec
	for _, spec := range m.Parts {
		if wanted[spec.Key] {
			selected = append(selected, spec)
		}
	}
	if len(selected) == 0 {
		return m.Parts, nil
	}
	return selected, nil
}

func derive(spec Spec, index int, single bool, p Params) (*Part, error) {
	main, err := resolveRepo(p.Resolver, "", spec.Repo, spec.Branch, firstNonEmpty(spec.RepoName, spec.Name), spec.RepoURL)
	if err != nil {
		return nil, &ConfigError{Part: spec.Key, Field: "repo", Reason: err.Error()}
	}

	additionals := make([]RepoRef, 0, len(spec.Additionals))
	for _, a := range spec.Additionals {
		ref, err := resolveRepo(p.Resolver, a.Key, a.Repo, a.Branch, firstNonEmpty(a.RepoName, a.Name), a.RepoURL)
		if err != nil {
			return nil, &ConfigError{Part: spec.Key, Field: "additionals." + a.Key + ".repo", Reason: err.Error()}
		}
		if ref.Key == "" {
			ref.Key = ref.Name
		}
		additionals = append(additionals, ref)
	}

	version := firstNonEmpty(spec.Version, p.Version)
	image := spec.Image
	if image == "" {
		image = ImageName(p.ProductName, spec.Key, version, single)
	}

	data := spec.Data
	if data == nil {
		data = []DataSource{}
	}

	return &Part{
		Key:          spec.Key,
		Type:         spec.Type,
		Repo:         main,
		Additionals:  additionals,
		Data:         data,
		Image:        image,
		Version:      version,
		TmpDir:       filepath.Join(p.TmpRoot, "tmp_"+sanitize(spec.Key)),
		Color:        Palette[index%len(Palette)],
		DockerTags:   dockerTags(image, append(append([]string{}, p.DockerTags...), spec.DockerTags...), p.Registry),
		IsWebType:    spec.Type.IsWeb(),
		IsServerType: spec.Type.IsServer(),
	}, nil
}

func resolveRepo(r repo.Resolver, key, ref, branch, name, url string) (RepoRef, error) {
	if url == "" {
		var err error
		if url, err = r.Resolve(ref); err != nil {
			return RepoRef{}, err
		}
	}
	if name == "" {
		name = repo.Name(ref)
	}
	if branch == "" {
		branch = DefaultBranch
	}
	return RepoRef{Key: key, Ref: ref, Name: name, URL: url, Branch: branch}, nil
}

// ImageName returns <product>[/<key>]:<version>. The key is omitted for single-part builds.
func ImageName(product, key, version string, single bool) string {
	if single {
		return fmt.Sprintf("%s:%s", product, version)
	}
	return fmt.Sprintf("%s/%s:%s", product, key, version)
}

// ImageRepository strips the tag from an image reference.
func ImageRepository(image string) string {
	i := strings.LastIndex(image, ":")
	if i < 0 || i < strings.LastIndex(image, "/") {
		return image
	}
	return image[:i]
}

// dockerTags expands bare tags such as "latest" against the image repository,
// prefixed with the registry when one is configured, and appends <registry>/<image>.
func dockerTags(image string, tags []string, registry string) []string {
	registry = strings.TrimSuffix(registry, "/")
	repository := ImageRepository(image)

	out := make([]string, 0, len(tags)+1)
	seen := make(map[string]bool)
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
		case strings.ContainsAny(t, ":/"):
			add(t)
		case registry != "":
			add(registry + "/" + repository + ":" + t)
		default:
			add(repository + ":" + t)
		}
	}
	if registry != "" {
		add(registry + "/" + image)
	}
	return out
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

func sanitize(key string) string {
	s := unsafeChars.ReplaceAllString(key, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "part"
	}
	return s
}

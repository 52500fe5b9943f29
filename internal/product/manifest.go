// Package product loads the product manifest and derives the parts of a build.
package product

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/phovea/productbuild/internal/repo"
)

// DefaultManifestFile is the manifest looked up in the working directory.
const DefaultManifestFile = "phovea_product.json"

// Manifest is the parsed product manifest in declaration order.
type Manifest struct {
	Parts []Spec
}

// Len returns the number of declared parts.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Parts)
}

// Lookup returns the spec declared under key.
func (m *Manifest) Lookup(key string) (Spec, bool) {
	for _, s := range m.Parts {
		if s.Key == key {
			return s, true
		}
	}
	return Spec{}, false
}

// Spec is one manifest entry as written by the user.
type Spec struct {
	Key         string       `yaml:"-"`
	Label       string       `yaml:"label,omitempty"`
	Type        Type         `yaml:"type"`
	Repo        string       `yaml:"repo"`
	Branch      string       `yaml:"branch,omitempty"`
	RepoName    string       `yaml:"repoName,omitempty"`
	RepoURL     string       `yaml:"repoUrl,omitempty"`
	Name        string       `yaml:"name,omitempty"`
	Data        []DataSource `yaml:"data,omitempty"`
	Additionals Additionals  `yaml:"additionals,omitempty"`
	Additional  Additionals  `yaml:"additional,omitempty"`
	DockerTags  []string     `yaml:"dockerTags,omitempty"`
	Image       string       `yaml:"image,omitempty"`
	Version     string       `yaml:"version,omitempty"`
}

// AdditionalSpec is a nested repository bundled into a part.
type AdditionalSpec struct {
	Key      string `yaml:"-"`
	Repo     string `yaml:"repo"`
	Branch   string `yaml:"branch,omitempty"`
	RepoName string `yaml:"repoName,omitempty"`
	RepoURL  string `yaml:"repoUrl,omitempty"`
	Name     string `yaml:"name,omitempty"`
}

// Additionals keeps nested specs in declaration order. It accepts a mapping
// of sub-key to spec or a sequence of specs.
type Additionals []AdditionalSpec

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Additionals) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			var spec AdditionalSpec
			if err := value.Content[i+1].Decode(&spec); err != nil {
				return fmt.Errorf("additionals.%s: %w", value.Content[i].Value, err)
			}
			spec.Key = value.Content[i].Value
			*a = append(*a, spec)
		}
		return nil
	case yaml.SequenceNode:
		for i, n := range value.Content {
			var spec AdditionalSpec
			if err := n.Decode(&spec); err != nil {
				return fmt.Errorf("additionals[%d]: %w", i, err)
			}
			*a = append(*a, spec)
		}
		return nil
	default:
		return fmt.Errorf("additionals must be a mapping or a sequence")
	}
}

// DataSourceType classifies a data source.
type DataSourceType string

const (
	DataURL  DataSourceType = "url"
	DataRepo DataSourceType = "repo"
)

// DataSource is a data package downloaded into a part's image.
type DataSource struct {
	Type     DataSourceType `yaml:"type"`
	URL      string         `yaml:"url,omitempty"`
	Repo     string         `yaml:"repo,omitempty"`
	Branch   string         `yaml:"branch,omitempty"`
	Name     string         `yaml:"name,omitempty"`
	Checksum string         `yaml:"checksum,omitempty"`
}

// UnmarshalYAML allows a data source to be given as a bare URL.
func (d *DataSource) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d.Type = DataURL
		d.URL = value.Value
		return nil
	}
	type rawDataSource DataSource
	if err := value.Decode((*rawDataSource)(d)); err != nil {
		return err
	}
	if d.Type == "" {
		d.Type = DataURL
		if d.Repo != "" {
			d.Type = DataRepo
		}
	}
	return nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to read manifest %s: %v", path, err)}
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest content. Both the mapping form
// {"key": {...}} and the sequence form [{"label": "key", ...}] are accepted.
func ParseManifest(data []byte) (*Manifest, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to parse manifest: %v", err)}
	}
	m := &Manifest{}
	if len(root.Content) == 0 {
		return m, nil
	}
	doc := root.Content[0]

	switch doc.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key := doc.Content[i].Value
			spec, err := decodeSpec(doc.Content[i+1])
			if err != nil {
				return nil, &ConfigError{Part: key, Reason: err.Error()}
			}
			spec.Key = key
			m.Parts = append(m.Parts, spec)
		}
	case yaml.SequenceNode:
		for i, n := range doc.Content {
			spec, err := decodeSpec(n)
			if err != nil {
				return nil, &ConfigError{Part: fmt.Sprintf("[%d]", i), Reason: err.Error()}
			}
			spec.Key = firstNonEmpty(spec.Label, spec.Name, repoName(spec.Repo))
			if spec.Key == "" {
				return nil, &ConfigError{Part: fmt.Sprintf("[%d]", i), Field: "label", Reason: "cannot derive a part key"}
			}
			m.Parts = append(m.Parts, spec)
		}
	default:
		return nil, &ConfigError{Reason: "manifest must be a mapping of part keys or a sequence of parts"}
	}

	seen := make(map[string]bool, len(m.Parts))
	for _, s := range m.Parts {
		if seen[s.Key] {
			return nil, &ConfigError{Part: s.Key, Reason: "duplicate part key"}
		}
		seen[s.Key] = true
	}
	return m, nil
}

func decodeSpec(n *yaml.Node) (Spec, error) {
	var spec Spec
	if n.Kind != yaml.MappingNode {
		return spec, fmt.Errorf("part must be an object")
	}
	if err := n.Decode(&spec); err != nil {
		return spec, err
	}
	// legacy spelling
	if len(spec.Additionals) == 0 {
		spec.Additionals = spec.Additional
	}
	spec.Additional = nil
	return spec, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func repoName(ref string) string {
	if ref == "" {
		return ""
	}
	return repo.Name(ref)
}

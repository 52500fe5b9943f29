/*
Package config provides the run configuration for productbuild.

Options are assembled once by the CLI layer from flags, environment variables,
an optional YAML defaults file and built-in defaults, in that order of
precedence, and then passed explicitly to every component.
*/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the defaults file looked up in the working directory.
const DefaultFile = ".productbuild.yaml"

// EnvPrefix prefixes the environment variable equivalent of every flag.
const EnvPrefix = "PHOVEA_"

// DefaultDataBaseURL resolves relative data source URLs.
const DefaultDataBaseURL = "https://s3.eu-central-1.amazonaws.com/phovea-data-packages/"

// Options is the immutable configuration of one run.
type Options struct {
	// ManifestFile is the product manifest
	ManifestFile string `yaml:"manifest,omitempty"`

	// PackageFile provides the product name and version
	PackageFile string `yaml:"package,omitempty"`

	// BuildDir receives bundles, image archives and the compose file
	BuildDir string `yaml:"buildDir,omitempty"`

	// TmpDir holds the per-part workspaces
	TmpDir string `yaml:"tmpDir,omitempty"`

	// TemplatesDir holds per-type and per-part workspace overlays
	TemplatesDir string `yaml:"templatesDir,omitempty"`

	// Org is prepended to bare repository names
	Org string `yaml:"org,omitempty"`

	// Generator is the scaffolding executable
	Generator string `yaml:"generator,omitempty"`

	// DataBaseURL resolves relative data source URLs
	DataBaseURL string `yaml:"dataBaseUrl,omitempty"`

	// ProductName overrides the name derived from PackageFile
	ProductName string `yaml:"productName,omitempty"`

	// Version overrides the version derived from PackageFile
	Version string `yaml:"version,omitempty"`

	// Services restricts the build to these part keys
	Services []string `yaml:"services,omitempty"`

	SkipTests     bool `yaml:"skipTests,omitempty"`
	SkipDocker    bool `yaml:"skipDocker,omitempty"`
	SkipPush      bool `yaml:"skipPush,omitempty"`
	SaveImage     bool `yaml:"saveImage,omitempty"`
	ArchiveSource bool `yaml:"archiveSource,omitempty"`
	RemoveImages  bool `yaml:"removeImages,omitempty"`
	InjectVersion bool `yaml:"injectVersion,omitempty"`
	UseSSH        bool `yaml:"useSSH,omitempty"`
	Serial        bool `yaml:"serial,omitempty"`
	Quiet         bool `yaml:"quiet,omitempty"`
	Verbose       bool `yaml:"verbose,omitempty"`

	// DockerRegistry prefixes pushed images
	DockerRegistry string `yaml:"dockerRegistry,omitempty"`

	// DockerTags are applied to every part image
	DockerTags []string `yaml:"dockerTags,omitempty"`

	// DockerBuildArgs are extra raw arguments for docker build
	DockerBuildArgs string `yaml:"dockerBuildArgs,omitempty"`

	// Parallelism bounds concurrently built parts; zero builds all at once
	Parallelism int `yaml:"parallelism,omitempty"`

	// Timeout bounds every subprocess; zero disables the bound
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// ImageFormat is the compression of saved image archives: tar, tar.gz or tar.zst
	ImageFormat string `yaml:"imageFormat,omitempty"`

	// SourceFormat is the format of source archives: tar.gz, tar.zst or zip
	SourceFormat string `yaml:"sourceFormat,omitempty"`

	// Checksum is the algorithm of the checksum file
	Checksum string `yaml:"checksum,omitempty"`

	// CacheData keeps downloaded data packages in CacheDir between builds
	CacheData bool   `yaml:"cacheData,omitempty"`
	CacheDir  string `yaml:"cacheDir,omitempty"`

	// Before and After are commands run around the build; they are only read from the defaults file
	Before []string `yaml:"before,omitempty"`
	After  []string `yaml:"after,omitempty"`
}

// Defaults returns the built-in defaults.
func Defaults() Options {
	return Options{
		ManifestFile: "phovea_product.json",
		PackageFile:  "package.json",
		BuildDir:     "build",
		TmpDir:       ".",
		TemplatesDir: "templates",
		Org:          "phovea",
		Generator:    "yo",
		DataBaseURL:  DefaultDataBaseURL,
		ImageFormat:  "tar.gz",
		SourceFormat: "tar.gz",
		Checksum:     "sha256",
	}
}

// LoadFile reads a YAML defaults file. Unknown keys are rejected.
func LoadFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var opts Options
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &opts, nil
}

// Merge fills every zero field of opts from the defaults file (if any) and then
// from the built-in defaults.
func Merge(opts Options, file *Options) (Options, error) {
	if file != nil {
		if err := mergo.Merge(&opts, *file); err != nil {
			return opts, fmt.Errorf("failed to merge config file: %w", err)
		}
	}
	if err := mergo.Merge(&opts, Defaults()); err != nil {
		return opts, fmt.Errorf("failed to merge defaults: %w", err)
	}
	return opts, nil
}

// Validate validates the options.
func (o Options) Validate() error {
	if strings.TrimSpace(o.ManifestFile) == "" {
		return fmt.Errorf("manifest file is required")
	}
	if o.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative")
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	switch o.SourceFormat {
	case "", "tar.gz", "tar.zst", "zip":
	default:
		return fmt.Errorf("unsupported source format: %s", o.SourceFormat)
	}
	if o.Quiet && o.Verbose {
		return fmt.Errorf("quiet and verbose are mutually exclusive")
	}
	return nil
}

// EnvVar returns the environment variable equivalent of a flag,
// e.g. dockerRegistry -> PHOVEA_DOCKER_REGISTRY.
func EnvVar(flag string) string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	prevLower := false
	for _, r := range flag {
		switch {
		case r == '-' || r == '_':
			b.WriteByte('_')
			prevLower = false
			continue
		case unicode.IsUpper(r) && prevLower:
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return b.String()
}

// SplitList splits a comma separated flag value, dropping empty entries.
func SplitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

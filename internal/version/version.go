// Package version resolves the product name and version for a build.
package version

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	mm "github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SnapshotMarker is replaced with a build id in snapshot versions.
const SnapshotMarker = "SNAPSHOT"

// Package is the subset of a package.json the build reads.
type Package struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ReadPackage reads name and version from a package.json file.
func ReadPackage(path string) (Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Package{}, fmt.Errorf("version: read %s: %w", path, err)
	}
	var pkg Package
	if err := yaml.Unmarshal(data, &pkg); err != nil {
		return Package{}, fmt.Errorf("version: parse %s: %w", path, err)
	}
	return pkg, nil
}

// ProductName strips the conventional _product suffix from a package name.
func ProductName(pkgName string) string {
	return strings.TrimSuffix(pkgName, "_product")
}

// BuildID formats t as YYYYMMDD-HHMMSS in UTC.
func BuildID(t time.Time) string {
	return t.UTC().Format("20060102-150405")
}

var dockerTag = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// Resolve returns override when set, else base with SNAPSHOT replaced by the build id of now.
// An override only has to be a valid docker tag such as latest or develop;
// a version taken from base must be a valid semantic version.
func Resolve(base, override string, now time.Time) (string, error) {
	if v := strings.TrimSpace(override); v != "" {
		if !dockerTag.MatchString(v) {
			return "", fmt.Errorf("version: %q is not a valid image tag", v)
		}
		return v, nil
	}

	v := strings.ReplaceAll(strings.TrimSpace(base), SnapshotMarker, BuildID(now))
	if v == "" {
		return "", fmt.Errorf("version: no product version given")
	}
	if _, err := mm.NewVersion(v); err != nil {
		return "", fmt.Errorf("version: parse version %q: %w", v, err)
	}
	return v, nil
}

// Package checksum provides checksum generation and verification for build outputs.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/zeebo/blake3"

	"github.com/phovea/productbuild/internal/artifact"
)

// Algorithm represents a checksum algorithm.
type Algorithm string

const (
	AlgorithmMD5    Algorithm = "md5"
	AlgorithmSHA1   Algorithm = "sha1"
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA512 Algorithm = "sha512"
	AlgorithmBLAKE3 Algorithm = "blake3"
)

// DefaultFile is the checksum file written to the build directory.
const DefaultFile = "checksums.txt"

// Generator generates checksums for artifacts.
type Generator struct {
	algorithm Algorithm
	buildDir  string
	manager   *artifact.Manager
}

// NewGenerator creates a new checksum generator.
func NewGenerator(algorithm Algorithm, buildDir string, manager *artifact.Manager) *Generator {
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}
	return &Generator{
		algorithm: algorithm,
		buildDir:  buildDir,
		manager:   manager,
	}
}

// Run writes the checksum file for all file artifacts and returns its path.
// It returns an empty path when there is nothing to checksum.
func (g *Generator) Run() (string, error) {
	artifacts := g.manager.Filter(
		artifact.ByType(artifact.TypeBundle, artifact.TypeImageArchive, artifact.TypeCompose),
		artifact.Files(),
	)
	if len(artifacts) == 0 {
		log.Debug("No artifacts to checksum")
		return "", nil
	}

	log.Info("Generating checksums", "algorithm", g.algorithm)

	checksums := make(map[string]string)
	for _, a := range artifacts {
		sum, err := File(a.Path, g.algorithm)
		if err != nil {
			return "", fmt.Errorf("failed to calculate checksum for %s: %w", a.Name, err)
		}
		name := filepath.Base(a.Path)
		checksums[name] = sum
		log.Debug("Generated checksum", "artifact", name, "checksum", sum[:16]+"...")
	}

	checksumPath := filepath.Join(g.buildDir, DefaultFile)
	if err := writeChecksumFile(checksumPath, checksums); err != nil {
		return "", fmt.Errorf("failed to write checksum file: %w", err)
	}

	g.manager.Add(artifact.Artifact{
		Name: DefaultFile,
		Path: checksumPath,
		Type: artifact.TypeChecksum,
		Extra: map[string]any{
			"algorithm": string(g.algorithm),
		},
	})

	log.Info("Checksums generated", "file", checksumPath, "count", len(checksums))
	return checksumPath, nil
}

func newHash(algorithm Algorithm) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmMD5:
		return md5.New(), nil
	case AlgorithmSHA1:
		return sha1.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmSHA512:
		return sha512.New(), nil
	case AlgorithmBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
}

// File calculates the hex checksum of a file.
func File(path string, algorithm Algorithm) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// writeChecksumFile writes "checksum  filename" lines sorted by file name.
func writeChecksumFile(path string, checksums map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	names := make([]string, 0, len(checksums))
	for name := range checksums {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(f, "%s  %s\n", checksums[name], name); err != nil {
			return err
		}
	}
	return f.Close()
}

// Digest is an expected checksum in "<algorithm>:<hex>" form.
type Digest struct {
	Algorithm Algorithm
	Hex       string
}

func (d Digest) String() string {
	return string(d.Algorithm) + ":" + d.Hex
}

// ParseDigest parses "<algorithm>:<hex>".
func ParseDigest(s string) (Digest, error) {
	algo, sum, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || sum == "" {
		return Digest{}, fmt.Errorf("invalid checksum %q, expected <algorithm>:<hex>", s)
	}
	d := Digest{Algorithm: Algorithm(strings.ToLower(algo)), Hex: strings.ToLower(sum)}
	if _, err := newHash(d.Algorithm); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// MismatchError is returned when a file does not match its expected digest.
type MismatchError struct {
	Path     string
	Expected Digest
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s:%s", e.Path, e.Expected, e.Expected.Algorithm, e.Actual)
}

// Verify verifies a file against an expected digest.
func Verify(path string, expected Digest) error {
	actual, err := File(path, expected.Algorithm)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected.Hex) {
		return &MismatchError{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}

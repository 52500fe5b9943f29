/*
Package artifact records what a build produced per part.
*/
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Type represents the type of artifact
type Type string

const (
	TypeBundle       Type = "Bundle"
	TypeSourceTree   Type = "Source Tree"
	TypeDockerImage  Type = "Docker Image"
	TypeImageArchive Type = "Image Archive"
	TypeCompose      Type = "Docker Compose"
	TypeChecksum     Type = "Checksum"
	TypeData         Type = "Data"
)

// Artifact represents a build artifact
type Artifact struct {
	// Name of the artifact
	Name string `json:"name"`

	// Path to the artifact file, empty for images
	Path string `json:"path,omitempty"`

	// Type of artifact
	Type Type `json:"type"`

	// Part is the key of the part that produced the artifact
	Part string `json:"part,omitempty"`

	// Extra holds additional metadata
	Extra map[string]any `json:"extra,omitempty"`
}

// Manager manages artifacts
type Manager struct {
	artifacts []Artifact
	mu        sync.RWMutex
}

// NewManager creates a new artifact manager
func NewManager() *Manager {
	return &Manager{
		artifacts: make([]Artifact, 0),
	}
}

// Add adds an artifact
func (m *Manager) Add(a Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, a)
}

// All returns all artifacts
func (m *Manager) All() []Artifact {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Artifact, len(m.artifacts))
	copy(result, m.artifacts)
	return result
}

// Count returns the number of artifacts
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.artifacts)
}

// Filter returns artifacts matching all the given filters
func (m *Manager) Filter(filters ...FilterFunc) []Artifact {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Artifact, 0)
	for _, a := range m.artifacts {
		match := true
		for _, f := range filters {
			if !f(a) {
				match = false
				break
			}
		}
		if match {
			result = append(result, a)
		}
	}
	return result
}

// FilterFunc is a function that filters artifacts
type FilterFunc func(Artifact) bool

// ByType returns a filter for artifact types
func ByType(types ...Type) FilterFunc {
	return func(a Artifact) bool {
		for _, t := range types {
			if a.Type == t {
				return true
			}
		}
		return false
	}
}

// ByPart returns a filter for the producing part
func ByPart(key string) FilterFunc {
	return func(a Artifact) bool {
		return a.Part == key
	}
}

// Files returns a filter for artifacts backed by a file
func Files() FilterFunc {
	return func(a Artifact) bool {
		if a.Path == "" {
			return false
		}
		info, err := os.Stat(a.Path)
		return err == nil && !info.IsDir()
	}
}

// Save saves artifacts to a JSON file, sorted by part then name
func (m *Manager) Save(path string) error {
	artifacts := m.All()
	sort.SliceStable(artifacts, func(i, j int) bool {
		if artifacts[i].Part != artifacts[j].Part {
			return artifacts[i].Part < artifacts[j].Part
		}
		return artifacts[i].Name < artifacts[j].Name
	})

	data, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

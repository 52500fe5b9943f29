package product

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordinoManifest = `{
  "web": {
    "type": "web",
    "repo": "Caleydo/ordino",
    "additionals": {
      "tdp_core": {"repo": "datavisyn/tdp_core", "branch": "develop"},
      "publicdb": {"repo": "Caleydo/tdp_publicdb"}
    },
    "dockerTags": ["stable"]
  },
  "api": {
    "type": "api",
    "repo": "phovea/phovea_server",
    "data": [
      "tdp_publicdb.tar.gz",
      {"type": "repo", "repo": "Caleydo/ordino_data"}
    ]
  },
  "db": {"type": "service", "repo": "phovea/db_service", "branch": "v2"}
}`

func params() Params {
	return Params{ProductName: "ordino", Version: "1.2.0", TmpRoot: "work"}
}

func mustParse(t *testing.T, data string) *Manifest {
	t.Helper()
	m, err := ParseManifest([]byte(data))
	require.NoError(t, err)
	return m
}

func requireConfigError(t *testing.T, err error) *ConfigError {
	t.Helper()
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr), "expected ConfigError, got %v", err)
	return cerr
}

func TestParseManifestKeepsOrder(t *testing.T) {
	m := mustParse(t, ordinoManifest)
	require.Equal(t, 3, m.Len())
	assert.Equal(t, "web", m.Parts[0].Key)
	assert.Equal(t, "api", m.Parts[1].Key)
	assert.Equal(t, "db", m.Parts[2].Key)

	web := m.Parts[0]
	require.Len(t, web.Additionals, 2)
	assert.Equal(t, "tdp_core", web.Additionals[0].Key)
	assert.Equal(t, "develop", web.Additionals[0].Branch)
	assert.Equal(t, "publicdb", web.Additionals[1].Key)

	api := m.Parts[1]
	require.Len(t, api.Data, 2)
	assert.Equal(t, DataSource{Type: DataURL, URL: "tdp_publicdb.tar.gz"}, api.Data[0])
	assert.Equal(t, DataRepo, api.Data[1].Type)
	assert.Equal(t, "Caleydo/ordino_data", api.Data[1].Repo)
}

func TestParseManifestLegacySequence(t *testing.T) {
	m := mustParse(t, `[
	  {"type": "web", "label": "app", "repo": "Caleydo/ordino", "additional": [{"repo": "datavisyn/tdp_core"}]},
	  {"type": "api", "repo": "phovea/phovea_server"}
	]`)
	require.Equal(t, 2, m.Len())
	assert.Equal(t, "app", m.Parts[0].Key)
	require.Len(t, m.Parts[0].Additionals, 1)
	assert.Equal(t, "phovea_server", m.Parts[1].Key)
}

func TestParseManifestErrors(t *testing.T) {
	tests := map[string]string{
		"not json":      `{"web": `,
		"scalar root":   `"hello"`,
		"part not map":  `{"web": "Caleydo/ordino"}`,
		"duplicate key": `[{"label": "a", "type": "web", "repo": "x/a"}, {"label": "a", "type": "api", "repo": "x/b"}]`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(data))
			requireConfigError(t, err)
		})
	}
}

func TestBuildDefaults(t *testing.T) {
	parts, err := Build(mustParse(t, ordinoManifest), params())
	require.NoError(t, err)
	require.Len(t, parts, 3)

	web := parts[0]
	assert.Equal(t, "web", web.Key)
	assert.True(t, web.IsWebType)
	assert.False(t, web.IsServerType)
	assert.Equal(t, "ordino", web.Repo.Name)
	assert.Equal(t, "https://github.com/Caleydo/ordino.git", web.Repo.URL)
	assert.Equal(t, DefaultBranch, web.Repo.Branch)
	assert.Equal(t, "ordino/web:1.2.0", web.Image)
	assert.Equal(t, "1.2.0", web.Version)
	assert.Equal(t, filepath.Join("work", "tmp_web"), web.TmpDir)
	assert.Equal(t, Palette[0], web.Color)
	assert.Equal(t, []string{"ordino/web:stable"}, web.DockerTags)
	require.Len(t, web.Additionals, 2)
	assert.Equal(t, RepoRef{Key: "tdp_core", Ref: "datavisyn/tdp_core", Name: "tdp_core", URL: "https://github.com/datavisyn/tdp_core.git", Branch: "develop"}, web.Additionals[0])
	assert.Empty(t, web.Data)
	assert.NotNil(t, web.Data)

	api := parts[1]
	assert.True(t, api.IsServerType)
	assert.Equal(t, "ordino/api:1.2.0", api.Image)
	assert.Equal(t, Palette[1], api.Color)
	assert.Empty(t, api.DockerTags)
	assert.Len(t, api.Data, 2)

	db := parts[2]
	assert.Equal(t, "v2", db.Repo.Branch)
	assert.Equal(t, TypeService, db.Type)
}

func TestBuildSingleServiceImage(t *testing.T) {
	t.Run("single part manifest", func(t *testing.T) {
		parts, err := Build(mustParse(t, `{"docs": {"type": "static", "repo": "org/docs"}}`), params())
		require.NoError(t, err)
		require.Len(t, parts, 1)
		assert.Equal(t, "ordino:1.2.0", parts[0].Image)
		assert.Equal(t, "docs", parts[0].Repo.Name)
	})

	t.Run("filtered to one part", func(t *testing.T) {
		p := params()
		p.Services = []string{"api"}
		parts, err := Build(mustParse(t, ordinoManifest), p)
		require.NoError(t, err)
		require.Len(t, parts, 1)
		assert.Equal(t, "ordino:1.2.0", parts[0].Image)
	})

	t.Run("several parts", func(t *testing.T) {
		p := params()
		p.Services = []string{"db", "web"}
		parts, err := Build(mustParse(t, ordinoManifest), p)
		require.NoError(t, err)
		require.Len(t, parts, 2)
		assert.Equal(t, "web", parts[0].Key, "manifest order is kept")
		for _, part := range parts {
			assert.Contains(t, part.Image, "/"+part.Key+":")
		}
	})
}

func TestBuildDockerTags(t *testing.T) {
	p := params()
	p.DockerTags = []string{"latest", "mirror.local/ordino/custom:1"}
	p.Registry = "registry.example.com/"
	parts, err := Build(mustParse(t, ordinoManifest), p)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"registry.example.com/ordino/web:latest",
		"mirror.local/ordino/custom:1",
		"registry.example.com/ordino/web:stable",
		"registry.example.com/ordino/web:1.2.0",
	}, parts[0].DockerTags)
	assert.Equal(t, []string{
		"registry.example.com/ordino/api:latest",
		"mirror.local/ordino/custom:1",
		"registry.example.com/ordino/api:1.2.0",
	}, parts[1].DockerTags)
}

func TestBuildExplicitOverrides(t *testing.T) {
	parts, err := Build(mustParse(t, `{
	  "a": {"type": "web", "repo": "org/a", "image": "custom/a:9", "version": "3.0.0", "repoName": "alpha", "repoUrl": "file:///src/a"},
	  "b": {"type": "api", "repo": "org/b"}
	}`), params())
	require.NoError(t, err)
	assert.Equal(t, "custom/a:9", parts[0].Image)
	assert.Equal(t, "3.0.0", parts[0].Version)
	assert.Equal(t, "alpha", parts[0].Repo.Name)
	assert.Equal(t, "file:///src/a", parts[0].Repo.URL)
}

func TestBuildUsesSSHResolver(t *testing.T) {
	p := params()
	p.Resolver.UseSSH = true
	parts, err := Build(mustParse(t, `{"a": {"type": "web", "repo": "org/a"}}`), p)
	require.NoError(t, err)
	assert.Equal(t, "git@github.com:org/a.git", parts[0].Repo.URL)
}

func TestBuildConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		services []string
		field    string
	}{
		{"empty mapping", `{}`, nil, ""},
		{"empty document", ``, nil, ""},
		{"missing type", `{"a": {"repo": "org/a"}}`, nil, "type"},
		{"invalid type", `{"a": {"type": "desktop", "repo": "org/a"}}`, nil, "type"},
		{"missing repo", `{"a": {"type": "web"}}`, nil, "repo"},
		{"additional missing repo", `{"a": {"type": "web", "repo": "org/a", "additionals": {"x": {"branch": "dev"}}}}`, nil, "additionals.x.repo"},
		{"unknown service", `{"a": {"type": "web", "repo": "org/a"}}`, []string{"nope"}, ""},
		{"invalid part among valid ones", `{"a": {"type": "web", "repo": "org/a"}, "b": {"type": "api"}}`, []string{"a"}, "repo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.manifest))
			require.NoError(t, err)
			p := params()
			p.Services = tt.services
			_, err = Build(m, p)
			cerr := requireConfigError(t, err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestBuildTmpDirsAreUnique(t *testing.T) {
	parts, err := Build(mustParse(t, `{
	  "a/b": {"type": "web", "repo": "org/a"},
	  "a_b": {"type": "api", "repo": "org/b"}
	}`), params())
	require.NoError(t, err)
	assert.NotEqual(t, parts[0].TmpDir, parts[1].TmpDir)
}

func TestPaletteRotates(t *testing.T) {
	manifest := "{"
	for i := 0; i < len(Palette)+1; i++ {
		if i > 0 {
			manifest += ","
		}
		manifest += `"p` + string(rune('a'+i)) + `": {"type": "web", "repo": "org/x"}`
	}
	manifest += "}"
	parts, err := Build(mustParse(t, manifest), params())
	require.NoError(t, err)
	assert.Equal(t, parts[0].Color, parts[len(Palette)].Color)
}

func TestImageRepository(t *testing.T) {
	assert.Equal(t, "ordino/web", ImageRepository("ordino/web:1.0"))
	assert.Equal(t, "localhost:5000/ordino", ImageRepository("localhost:5000/ordino"))
	assert.Equal(t, "localhost:5000/ordino", ImageRepository("localhost:5000/ordino:2"))
}

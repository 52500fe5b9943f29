package compose

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/phovea/productbuild/internal/product"
)

func fragment(t *testing.T, src string) *Fragment {
	t.Helper()
	f, err := ParseFragment([]byte(src), "test")
	require.NoError(t, err)
	return f
}

func part(key string, typ product.Type) *product.Part {
	return &product.Part{
		Key:          key,
		Type:         typ,
		Image:        "ordino/" + key + ":1.0.0",
		IsWebType:    typ.IsWeb(),
		IsServerType: typ.IsServer(),
	}
}

func services(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	s, ok := doc["services"].(map[string]any)
	require.True(t, ok)
	return s
}

func service(t *testing.T, doc map[string]any, name string) map[string]any {
	t.Helper()
	s, ok := services(t, doc)[name].(map[string]any)
	require.True(t, ok, "service %s", name)
	return s
}

func TestParseFragmentKeepsServiceOrder(t *testing.T) {
	f := fragment(t, `
version: "2.0"
services:
  zeta:
    build: .
    environment: [A=1]
  alpha:
    image: postgres
`)
	assert.Equal(t, []string{"zeta", "alpha"}, f.Services)
	name, svc, ok := f.FirstService()
	require.True(t, ok)
	assert.Equal(t, "zeta", name)
	assert.Equal(t, []any{"A=1"}, svc["environment"])
}

func TestLoadFragment(t *testing.T) {
	dir := t.TempDir()
	f, err := LoadFragment(dir)
	require.NoError(t, err, "missing fragment is empty")
	assert.Empty(t, f.Doc)
	_, _, ok := f.FirstService()
	assert.False(t, ok)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "deploy"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FragmentPath), []byte("services: [oops"), 0o644))
	_, err = LoadFragment(dir)
	var merr *MergeError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, filepath.Join(dir, FragmentPath), merr.Source)
}

func TestParseFragmentErrors(t *testing.T) {
	for name, src := range map[string]string{
		"scalar root":     `hello`,
		"services a list": `services: [a, b]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFragment([]byte(src), name)
			var merr *MergeError
			assert.True(t, errors.As(err, &merr))
		})
	}

	f, err := ParseFragment([]byte(""), "empty")
	require.NoError(t, err)
	assert.Empty(t, f.Doc)
}

func TestMergeUnionsSequences(t *testing.T) {
	a := fragment(t, `
services:
  db:
    image: postgres
    ports: ["5432:5432"]
    environment: {A: "1"}
volumes:
  data: {}
`).Doc
	b := fragment(t, `
services:
  db:
    image: postgres:12
    ports: ["5432:5432", "5433:5433"]
    environment: {B: "2"}
`).Doc

	doc, err := Merge(a, b)
	require.NoError(t, err)
	db := service(t, doc, "db")
	assert.Equal(t, "postgres:12", db["image"], "later scalar wins")
	assert.Equal(t, []any{"5432:5432", "5433:5433"}, db["ports"])
	assert.Equal(t, map[string]any{"A": "1", "B": "2"}, db["environment"])
	assert.Contains(t, doc, "volumes")

	// inputs are not modified
	assert.Equal(t, []any{"5432:5432"}, a["services"].(map[string]any)["db"].(map[string]any)["ports"])
}

func TestMergeIsIdempotentAndOrderInsensitiveOnSequences(t *testing.T) {
	a := fragment(t, `services: {db: {ports: [a, b]}}`).Doc
	b := fragment(t, `services: {db: {ports: [b, c]}}`).Doc

	once, err := Merge(a)
	require.NoError(t, err)
	twice, err := Merge(a, a)
	require.NoError(t, err)
	assert.Equal(t, once, twice)

	ab, err := Merge(a, b)
	require.NoError(t, err)
	ba, err := Merge(b, a)
	require.NoError(t, err)
	assert.ElementsMatch(t, service(t, ab, "db")["ports"], service(t, ba, "db")["ports"])
	assert.Len(t, service(t, ab, "db")["ports"], 3)
}

func TestPartService(t *testing.T) {
	own := fragment(t, `
services:
  ordino:
    build: .
    image: placeholder
    ports: ["8080:80"]
    depends_on: [api]
  extra:
    image: ignored
`)

	doc := PartService(part("web", product.TypeWeb), own)
	web := service(t, doc, "web")
	assert.NotContains(t, web, "build")
	assert.Equal(t, "ordino/web:1.0.0", web["image"])
	assert.Equal(t, []any{"80:80"}, web["ports"])
	assert.Equal(t, []any{"api"}, web["depends_on"])
	assert.Len(t, services(t, doc), 1)

	api := service(t, PartService(part("api", product.TypeAPI), own), "api")
	assert.Equal(t, []any{"8080:80"}, api["ports"], "ports are only forced for web parts")

	empty := service(t, PartService(part("db", product.TypeService), &Fragment{Doc: map[string]any{}}), "db")
	assert.Equal(t, map[string]any{"image": "ordino/db:1.0.0"}, empty)
}

func TestSynthesizeLinks(t *testing.T) {
	web := part("w", product.TypeWeb)
	api := part("a", product.TypeAPI)
	svc := part("s", product.TypeService)
	own := &Fragment{Doc: map[string]any{}}
	additional := fragment(t, `services: {redis: {image: redis}}`)

	doc, err := Synthesize([]Entry{
		{Part: web, Own: own},
		{Part: api, Own: fragment(t, `services: {api: {links: ["redis:redis"]}}`), Additionals: []*Fragment{additional}},
		{Part: svc, Own: own},
	})
	require.NoError(t, err)

	assert.Equal(t, Version, doc["version"])
	assert.Equal(t, []any{"a:api"}, service(t, doc, "w")["links"])
	assert.Equal(t, []any{"redis:redis", "s:s"}, service(t, doc, "a")["links"], "links accumulate")
	assert.NotContains(t, service(t, doc, "s"), "links")
	assert.Contains(t, services(t, doc), "redis")
}

func TestSynthesizeSingleStaticPart(t *testing.T) {
	doc, err := Synthesize([]Entry{{Part: part("docs", product.TypeStatic), Own: &Fragment{Doc: map[string]any{}}}})
	require.NoError(t, err)
	require.Len(t, services(t, doc), 1)
	assert.NotContains(t, service(t, doc, "docs"), "links")

	doc, err = Synthesize(nil)
	require.NoError(t, err)
	assert.Empty(t, services(t, doc))
}

func TestLinkDoesNotDuplicate(t *testing.T) {
	parts := []*product.Part{part("w", product.TypeWeb), part("a", product.TypeAPI)}
	doc, err := Synthesize([]Entry{{Part: parts[0], Own: &Fragment{}}, {Part: parts[1], Own: &Fragment{}}})
	require.NoError(t, err)
	require.NoError(t, Link(doc, parts))
	assert.Equal(t, []any{"a:api"}, service(t, doc, "w")["links"])
}

func TestWrite(t *testing.T) {
	doc, err := Synthesize([]Entry{{Part: part("web", product.TypeWeb), Own: &Fragment{}}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "build", "docker-compose.yml")
	require.NoError(t, Write(path, doc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `version: "2.0"`+"\n"), string(data))
	assert.Contains(t, string(data), "\n  web:\n    image: ordino/web:1.0.0\n")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, doc, back)
}

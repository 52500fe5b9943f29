package docker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phovea/productbuild/internal/config"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/shell"
	"github.com/phovea/productbuild/internal/shell/shelltest"
)

func newBuilder(t *testing.T, rec shell.Runner, env []string, args string) *Builder {
	t.Helper()
	b, err := NewBuilder(rec, config.NewEnvironment(env), args)
	require.NoError(t, err)
	return b
}

func dockerfile(t *testing.T, dir, rel string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("FROM scratch\n"), 0o644))
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	dockerfile(t, dir, "deploy/api/Dockerfile")
	dockerfile(t, dir, "deploy/Dockerfile")

	rec := &shelltest.Recorder{}
	b := newBuilder(t, rec, []string{"HTTP_PROXY=http://proxy:3128", "no_proxy=localhost", "HOME=/root"}, `--network host --label "team=data science"`)

	require.NoError(t, b.Build(context.Background(), "ordino/api:1.0.0", product.TypeAPI, dir))

	cmds := rec.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, dir, cmds[0].Dir)
	assert.Equal(t, []string{
		"build", "-t", "ordino/api:1.0.0", "-f", filepath.Join("deploy", "api", "Dockerfile"),
		"--build-arg", "HTTP_PROXY=http://proxy:3128",
		"--build-arg", "no_proxy=localhost",
		"--network", "host", "--label", "team=data science",
		".",
	}, cmds[0].Args)
}

func TestBuildFallsBackToDeployDockerfile(t *testing.T) {
	dir := t.TempDir()
	dockerfile(t, dir, "deploy/Dockerfile")
	rec := &shelltest.Recorder{}

	require.NoError(t, newBuilder(t, rec, nil, "").Build(context.Background(), "ordino:1", product.TypeWeb, dir))
	assert.Contains(t, rec.Commands()[0].Args, filepath.Join("deploy", "Dockerfile"))
}

func TestBuildMissingDockerfile(t *testing.T) {
	rec := &shelltest.Recorder{}
	err := newBuilder(t, rec, nil, "").Build(context.Background(), "ordino:1", product.TypeService, t.TempDir())

	var merr *MissingDockerfileError
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Tried, 2)
	assert.Empty(t, rec.Commands())
}

func TestNewBuilderRejectsBadArgs(t *testing.T) {
	_, err := NewBuilder(&shelltest.Recorder{}, config.Environment{}, `--label "unterminated`)
	assert.Error(t, err)
}

func TestTagAndPush(t *testing.T) {
	rec := &shelltest.Recorder{}
	b := newBuilder(t, rec, nil, "")
	ctx := context.Background()

	require.NoError(t, b.Tag(ctx, "ordino/web:1", nil))
	require.NoError(t, b.Push(ctx, nil))
	assert.Empty(t, rec.Commands(), "empty tag lists are no-ops")

	tags := []string{"registry.example.com/ordino/web:1", "ordino/web:latest"}
	require.NoError(t, b.Tag(ctx, "ordino/web:1", append(tags, "ordino/web:1")))
	require.NoError(t, b.Push(ctx, tags))
	assert.Equal(t, []string{
		"docker tag ordino/web:1 registry.example.com/ordino/web:1",
		"docker tag ordino/web:1 ordino/web:latest",
		"docker push registry.example.com/ordino/web:1",
		"docker push ordino/web:latest",
	}, rec.Lines())
}

func TestPushStopsOnFailure(t *testing.T) {
	rec := &shelltest.Recorder{Fail: shelltest.FailOn("docker push a", 1)}
	err := newBuilder(t, rec, nil, "").Push(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "failed to push a")
	assert.Equal(t, 1, rec.Count("docker push"))
}

func saveHook(payload string) func(shell.Cmd) error {
	return func(cmd shell.Cmd) error {
		_, err := io.WriteString(cmd.Stdout, payload)
		return err
	}
}

func TestSave(t *testing.T) {
	t.Run("gzip", func(t *testing.T) {
		rec := &shelltest.Recorder{Hook: saveHook("image layers")}
		out := filepath.Join(t.TempDir(), "build", ArchiveName("web", ""))
		require.NoError(t, newBuilder(t, rec, nil, "").Save(context.Background(), "ordino/web:1", out, ""))
		assert.Equal(t, "web_image.tar.gz", filepath.Base(out))
		assert.Equal(t, []string{"docker save ordino/web:1"}, rec.Lines())

		f, err := os.Open(out)
		require.NoError(t, err)
		defer f.Close()
		zr, err := gzip.NewReader(f)
		require.NoError(t, err)
		data, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, "image layers", string(data))
	})

	t.Run("zstd", func(t *testing.T) {
		rec := &shelltest.Recorder{Hook: saveHook("image layers")}
		out := filepath.Join(t.TempDir(), ArchiveName("api", FormatZstd))
		require.NoError(t, newBuilder(t, rec, nil, "").Save(context.Background(), "ordino/api:1", out, FormatZstd))

		f, err := os.Open(out)
		require.NoError(t, err)
		defer f.Close()
		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		data, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, "image layers", string(data))
	})

	t.Run("unsupported format", func(t *testing.T) {
		err := newBuilder(t, &shelltest.Recorder{}, nil, "").Save(context.Background(), "x", filepath.Join(t.TempDir(), "x.rar"), "rar")
		assert.ErrorContains(t, err, "unsupported")
	})
}

func TestRemoveImages(t *testing.T) {
	rec := &shelltest.Recorder{Hook: func(cmd shell.Cmd) error {
		if cmd.Stdout != nil {
			_, err := io.WriteString(cmd.Stdout, "ordino/web:1.0\nother/app:2\nordino:<none>\nordino/api:1.0\n")
			return err
		}
		return nil
	}}
	require.NoError(t, newBuilder(t, rec, nil, "").RemoveImages(context.Background(), "ordino"))
	lines := rec.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "docker rmi ordino/web:1.0 ordino/api:1.0", lines[1])
}

func TestRemoveImagesNothingToDo(t *testing.T) {
	rec := &shelltest.Recorder{}
	require.NoError(t, newBuilder(t, rec, nil, "").RemoveImages(context.Background(), "ordino"))
	assert.Equal(t, 0, rec.Count("docker rmi"))
}

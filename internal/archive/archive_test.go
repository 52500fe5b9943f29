package archive

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "phovea_server", "api"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "phovea_server", "__init__.py"), []byte("# init"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "phovea_server", "api", "main.py"), []byte("print(1)"), 0o644))
	return src
}

func tarEntries(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	entries := map[string]string{}
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return entries
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[h.Name] = string(data)
	}
}

func TestDirTarGz(t *testing.T) {
	dest := filepath.Join(t.TempDir(), Name("api", "source", ""))
	assert.Equal(t, "api_source.tar.gz", filepath.Base(dest))
	require.NoError(t, Dir(sourceTree(t), dest, "", "source"))

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)

	entries := tarEntries(t, gr)
	assert.Equal(t, "print(1)", entries["source/phovea_server/api/main.py"])
	assert.Equal(t, "# init", entries["source/phovea_server/__init__.py"])
	assert.Contains(t, entries, "source/phovea_server/")
}

func TestDirZstd(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "api.tar.zst")
	require.NoError(t, Dir(sourceTree(t), dest, FormatZstd, ""))

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()

	entries := tarEntries(t, zr)
	assert.Equal(t, "print(1)", entries["phovea_server/api/main.py"])
}

func TestDirZip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "api.zip")
	require.NoError(t, Dir(sourceTree(t), dest, FormatZip, ""))

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"phovea_server/", "phovea_server/__init__.py", "phovea_server/api/", "phovea_server/api/main.py"}, names)
}

func TestDirUnsupportedFormat(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "api.rar")
	assert.Error(t, Dir(sourceTree(t), dest, "rar", ""))
	assert.NoFileExists(t, dest)
}

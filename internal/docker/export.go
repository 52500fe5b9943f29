package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/phovea/productbuild/internal/shell"
)

// Archive formats for saved images.
const (
	FormatTar   = "tar"
	FormatTarGz = "tar.gz"
	FormatZstd  = "tar.zst"
)

// ArchiveName returns <key>_image.<format>.
func ArchiveName(key, format string) string {
	return fmt.Sprintf("%s_image.%s", key, formatOrDefault(format))
}

// Save writes `docker save image` to output, compressed according to format.
func (b *Builder) Save(ctx context.Context, image, output, format string) (err error) {
	format = formatOrDefault(format)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	log.FromContext(ctx).Info("Exporting docker image", "image", image, "output", output, "format", format)

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.WriteCloser
	switch format {
	case FormatTar:
		w = nopCloser{out}
	case FormatTarGz:
		w = gzip.NewWriter(out)
	case FormatZstd:
		if w, err = zstd.NewWriter(out); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported docker export format: %s", format)
	}

	if err := b.runner.Run(ctx, shell.Cmd{Name: b.bin, Args: []string{"save", image}, Stdout: w}); err != nil {
		w.Close()
		return fmt.Errorf("docker save failed: %w", err)
	}
	return w.Close()
}

func formatOrDefault(f string) string {
	if f == "" {
		return FormatTarGz
	}
	return strings.ToLower(strings.TrimPrefix(f, "."))
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

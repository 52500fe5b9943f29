/*
Package archive packs directory trees, such as the aggregated python source of
a server part, into a single file.
*/
package archive

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Supported formats
const (
	FormatTarGz = "tar.gz"
	FormatZstd  = "tar.zst"
	FormatZip   = "zip"
)

// Name returns <key>_<kind>.<format>.
func Name(key, kind, format string) string {
	if format == "" {
		format = FormatTarGz
	}
	return fmt.Sprintf("%s_%s.%s", key, kind, format)
}

// Dir packs the contents of src into dest. Entries are stored relative to src
// below the top-level directory prefix, if given.
func Dir(src, dest, format, prefix string) (err error) {
	if format == "" {
		format = FormatTarGz
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	switch format {
	case FormatTarGz:
		gw := gzip.NewWriter(file)
		if err := writeTar(gw, src, prefix); err != nil {
			gw.Close()
			return err
		}
		return gw.Close()
	case FormatZstd:
		zw, err := zstd.NewWriter(file)
		if err != nil {
			return err
		}
		if err := writeTar(zw, src, prefix); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	case FormatZip:
		return writeZip(file, src, prefix)
	default:
		return fmt.Errorf("unsupported archive format: %s", format)
	}
}

// walk calls fn for every entry below src with its slash-separated archive name.
func walk(src, prefix string, fn func(path, name string, d fs.DirEntry) error) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil || rel == "." {
			return err
		}
		name := filepath.ToSlash(filepath.Join(prefix, rel))
		return fn(path, strings.TrimPrefix(name, "/"), d)
	})
}

func writeTar(w io.Writer, src, prefix string) error {
	tw := tar.NewWriter(w)
	err := walk(src, prefix, func(path, name string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = name
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyInto(tw, path)
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func writeZip(w io.Writer, src, prefix string) error {
	zw := zip.NewWriter(w)
	err := walk(src, prefix, func(path, name string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !d.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		if d.IsDir() {
			header.Name += "/"
		} else {
			header.Method = zip.Deflate
		}

		writer, err := zw.CreateHeader(header)
		if err != nil || d.IsDir() {
			return err
		}
		return copyInto(writer, path)
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

func copyInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// Package archive packages an extension build directory into the zip artifact that gets
// installed into the browser, and unpacks it again on the browser side.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/extension-ci/chromium-test-harness/framework/helpers"
)

// All entries get the same timestamp so that archiving the same tree twice produces the same
// bytes. This is the earliest time the zip format can represent.
var entryModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

type settings struct {
	exclude []glob.Glob
}

// Option is a configuration option for Directory.
type Option helpers.ConfigOption[settings]

type excludeOption struct {
	patterns []string
}

func (o excludeOption) Configure(s *settings) error {
	for _, p := range o.patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		s.exclude = append(s.exclude, g)
	}
	return nil
}

// Exclude leaves out any file whose slash-separated path relative to the source directory
// matches one of the glob patterns, such as "**/*.map".
func Exclude(patterns ...string) Option {
	return excludeOption{patterns}
}

// Directory writes a zip archive at dstPath containing every regular file under srcDir, with
// names relative to srcDir. Compression is deflate at the fastest level, since the artifact is
// thrown away after one run.
//
// Directory returns only after the archive has been completely written and the file closed.
// If anything fails, the partially written file is removed and the error is returned.
func Directory(fs afero.Fs, srcDir, dstPath string, options ...Option) error {
	var s settings
	if err := helpers.ApplyOptions(&s, options...); err != nil {
		return err
	}

	info, err := fs.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("cannot read build directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("build path %s is not a directory", srcDir)
	}

	out, err := fs.Create(dstPath)
	if err != nil {
		return fmt.Errorf("cannot create archive: %w", err)
	}
	err = writeArchive(fs, srcDir, dstPath, out, s)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("cannot finish writing archive: %w", closeErr)
	}
	if err != nil {
		_ = fs.Remove(dstPath)
		return err
	}
	return nil
}

func writeArchive(fs afero.Fs, srcDir, dstPath string, out io.Writer, s settings) error {
	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})

	// afero.Walk visits entries in lexical order, which keeps the archive deterministic
	err := afero.Walk(fs, srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// the archive itself, if it is being written inside the build directory
		if !info.Mode().IsRegular() || filepath.Clean(path) == filepath.Clean(dstPath) {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if s.excluded(name) {
			return nil
		}
		return addFile(fs, zw, path, name, info)
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("cannot write archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("cannot finish writing archive: %w", err)
	}
	return nil
}

func addFile(fs afero.Fs, zw *zip.Writer, path, name string, info os.FileInfo) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: entryModTime,
	}
	header.SetMode(info.Mode())
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	in, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck
	_, err = io.Copy(w, in)
	return err
}

func (s settings) excluded(name string) bool {
	for _, g := range s.exclude {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Extract unpacks the zip archive at zipPath into destDir, creating it if necessary. Entries
// whose names would resolve outside destDir are rejected.
func Extract(fs afero.Fs, zipPath, destDir string) error {
	f, err := fs.Open(zipPath)
	if err != nil {
		return fmt.Errorf("cannot open archive: %w", err)
	}
	defer f.Close() //nolint:errcheck
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("cannot open archive: %w", err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("%s is not a valid archive: %w", zipPath, err)
	}

	root := filepath.Clean(destDir)
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return err
	}
	for _, entry := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(entry.Name))
		if !insideDir(root, target) {
			return fmt.Errorf("archive entry %q points outside the destination", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(fs, entry, target); err != nil {
			return fmt.Errorf("cannot extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

func extractFile(fs afero.Fs, entry *zip.File, target string) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	in, err := entry.Open()
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}


func insideDir(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

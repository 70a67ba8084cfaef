package archive

import (
	"bytes"
	"errors"
	"os"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBuildDir(t *testing.T, fs afero.Fs) {
	t.Helper()
	files := map[string]string{
		"build/manifest.json":          `{"manifest_version": 2}`,
		"build/core/background.js":     "console.log('TAP:  ok 1 - loaded');",
		"build/core/background.js.map": "{}",
		"build/modules/tests/run.js":   "run();",
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
}

func zipEntries(t *testing.T, fs afero.Fs, path string) map[string]string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	ret := make(map[string]string)
	for _, f := range zr.File {
		r, err := f.Open()
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(r)
		require.NoError(t, err)
		_ = r.Close()
		ret[f.Name] = buf.String()
	}
	return ret
}

func TestDirectoryStripsSourcePrefix(t *testing.T) {
	fs := afero.NewMemMapFs()
	makeBuildDir(t, fs)

	require.NoError(t, Directory(fs, "build", "ext.zip"))

	entries := zipEntries(t, fs, "ext.zip")
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"core/background.js",
		"core/background.js.map",
		"manifest.json",
		"modules/tests/run.js",
	}, names)
	assert.Equal(t, "run();", entries["modules/tests/run.js"])
}

func TestDirectoryIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	makeBuildDir(t, fs)

	require.NoError(t, Directory(fs, "build", "a.zip"))
	require.NoError(t, Directory(fs, "build", "b.zip"))

	a, err := afero.ReadFile(fs, "a.zip")
	require.NoError(t, err)
	b, err := afero.ReadFile(fs, "b.zip")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDirectoryLeavesOutItsOwnOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	makeBuildDir(t, fs)

	require.NoError(t, Directory(fs, "build", "build/ext.zip"))

	entries := zipEntries(t, fs, "build/ext.zip")
	assert.Len(t, entries, 4)
	assert.NotContains(t, entries, "ext.zip")
}

func TestDirectoryExclude(t *testing.T) {
	fs := afero.NewMemMapFs()
	makeBuildDir(t, fs)

	require.NoError(t, Directory(fs, "build", "ext.zip", Exclude("**.map")))

	entries := zipEntries(t, fs, "ext.zip")
	assert.NotContains(t, entries, "core/background.js.map")
	assert.Contains(t, entries, "core/background.js")
}

func TestDirectoryInvalidExcludePattern(t *testing.T) {
	fs := afero.NewMemMapFs()
	makeBuildDir(t, fs)

	assert.Error(t, Directory(fs, "build", "ext.zip", Exclude("[unclosed")))
}

func TestDirectoryMissingSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := Directory(fs, "build", "ext.zip")
	assert.Error(t, err)
	exists, _ := afero.Exists(fs, "ext.zip")
	assert.False(t, exists)
}

func TestDirectoryCannotCreateDestination(t *testing.T) {
	base := afero.NewMemMapFs()
	makeBuildDir(t, base)

	err := Directory(afero.NewReadOnlyFs(base), "build", "ext.zip")
	assert.Error(t, err)
}

var errDiskFull = errors.New("disk full")

type failingFile struct {
	afero.File
}

func (f failingFile) Write([]byte) (int, error) { return 0, errDiskFull }

type failingWriteFs struct {
	afero.Fs
}

func (f failingWriteFs) Create(name string) (afero.File, error) {
	file, err := f.Fs.Create(name)
	if err != nil {
		return nil, err
	}
	return failingFile{file}, nil
}

func TestDirectoryWriteErrorRemovesPartialArchive(t *testing.T) {
	base := afero.NewMemMapFs()
	makeBuildDir(t, base)

	err := Directory(failingWriteFs{base}, "build", "ext.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDiskFull))
	exists, _ := afero.Exists(base, "ext.zip")
	assert.False(t, exists)
}

func TestExtractRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	makeBuildDir(t, fs)
	require.NoError(t, Directory(fs, "build", "ext.zip"))

	require.NoError(t, Extract(fs, "ext.zip", "unpacked"))

	data, err := afero.ReadFile(fs, "unpacked/core/background.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log('TAP:  ok 1 - loaded');", string(data))
	data, err = afero.ReadFile(fs, "unpacked/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, `{"manifest_version": 2}`, string(data))
}

func TestExtractIntoCurrentDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	makeBuildDir(t, fs)
	require.NoError(t, Directory(fs, "build", "ext.zip"))

	require.NoError(t, Extract(fs, "ext.zip", "."))

	data, err := afero.ReadFile(fs, "core/background.js")
	require.NoError(t, err)
	assert.Equal(t, "console.log('TAP:  ok 1 - loaded');", string(data))
}

func TestExtractRejectsEntriesOutsideDestination(t *testing.T) {
	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escape.js")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, "evil.zip", buf.Bytes(), 0o644))

	err = Extract(fs, "evil.zip", "unpacked")
	assert.Error(t, err)
	exists, _ := afero.Exists(fs, "escape.js")
	assert.False(t, exists)
}

func TestExtractNotAnArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "ext.zip", []byte("not a zip"), 0o644))
	assert.Error(t, Extract(fs, "ext.zip", "unpacked"))

	_, err := fs.Stat("missing.zip")
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, Extract(fs, "missing.zip", "unpacked"))
}

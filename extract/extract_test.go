package extract

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/etnz/deb2ipa/deb"
	"github.com/etnz/deb2ipa/fault"
)

// fakeTool records calls and runs fn in place of an external binary.
type fakeTool struct {
	calls int
	fn    func(src, dest string) error
}

func (f *fakeTool) Extract(src, dest string) error {
	f.calls++
	if f.fn == nil {
		return errors.New("tool unavailable")
	}
	return f.fn(src, dest)
}

func writeDeb(t *testing.T, dir string, c deb.Compression) string {
	t.Helper()
	p := &deb.Package{
		Metadata:    deb.Metadata{Package: "com.example.app", Version: "1.0", Architecture: "iphoneos-arm"},
		Compression: c,
		Files:       []deb.File{{DestPath: "/Applications/Foo.app/Foo", Mode: 0755, Body: "bin"}},
	}
	var buf bytes.Buffer
	_, err := p.WriteTo(&buf)
	require.NoError(t, err)
	path := filepath.Join(dir, p.StandardFilename())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

type entry struct {
	name, body string
	typ        byte
	link       string
}

func tarBytes(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.body)), Typeflag: e.typ, Linkname: e.link}
		if e.typ == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag != tar.TypeReg {
			hdr.Size = 0
			hdr.Mode = 0755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, kind string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch kind {
	case "gz":
		w = gzip.NewWriter(&buf)
	case "xz":
		w, err = xz.NewWriter(&buf)
	case "zst":
		w, err = zstd.NewWriter(&buf)
	default:
		return data
	}
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractContainerNative(t *testing.T) {
	for _, c := range []deb.Compression{deb.CompressGzip, deb.CompressXz, deb.CompressNone} {
		dir := t.TempDir()
		tool := &fakeTool{}
		e := New(tool, nil)

		data, err := e.ExtractContainer(writeDeb(t, dir, c), filepath.Join(dir, "out"))
		require.NoError(t, err)
		assert.Equal(t, "data.tar"+map[deb.Compression]string{deb.CompressGzip: ".gz", deb.CompressXz: ".xz"}[c], filepath.Base(data))
		assert.Zero(t, tool.calls)

		out := filepath.Join(dir, "tree")
		require.True(t, e.ExtractTarLike(data, out))
		body, err := os.ReadFile(filepath.Join(out, "Applications", "Foo.app", "Foo"))
		require.NoError(t, err)
		assert.Equal(t, "bin", string(body))
	}
}

func TestExtractContainerFallback(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "weird.deb")
	require.NoError(t, os.WriteFile(src, []byte("not an ar archive"), 0644))

	tool := &fakeTool{fn: func(_, dest string) error {
		require.NoError(t, os.MkdirAll(dest, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "debian-binary"), []byte("2.0\n"), 0644))
		return os.WriteFile(filepath.Join(dest, "data.tar.lzma"), []byte("x"), 0644)
	}}
	data, err := New(tool, nil).ExtractContainer(src, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, 1, tool.calls)
	assert.Equal(t, "data.tar.lzma", filepath.Base(data))
}

func TestExtractContainerNoDataMember(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "weird.deb")
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0644))

	tool := &fakeTool{fn: func(_, dest string) error {
		require.NoError(t, os.MkdirAll(dest, 0755))
		return os.WriteFile(filepath.Join(dest, "debian-binary"), []byte("2.0\n"), 0644)
	}}
	_, err := New(tool, nil).ExtractContainer(src, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, fault.ErrExtraction)
}

func TestExtractContainerToolFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "weird.deb")
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0644))

	_, err := New(SevenZip{Path: "deb2ipa-no-such-archiver"}, nil).ExtractContainer(src, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, fault.ErrExtraction)
	assert.Contains(t, err.Error(), "not found")
}

func TestExtractTarLikeCompressions(t *testing.T) {
	raw := tarBytes(t,
		entry{name: "./Library/", typ: tar.TypeDir},
		entry{name: "./Library/MobileSubstrate/DynamicLibraries/Hook.dylib", body: "dylib"},
		entry{name: "./Library/MobileSubstrate/DynamicLibraries/Hook.plist", body: "plist"},
		entry{name: "./usr/lib/libhook.dylib", typ: tar.TypeSymlink, link: "../../Library/MobileSubstrate/DynamicLibraries/Hook.dylib"},
	)
	for _, kind := range []string{"", "gz", "xz", "zst"} {
		dir := t.TempDir()
		src := filepath.Join(dir, "data.tar")
		require.NoError(t, os.WriteFile(src, compress(t, kind, raw), 0644))

		tool := &fakeTool{}
		out := filepath.Join(dir, "out")
		require.True(t, New(tool, nil).ExtractTarLike(src, out), kind)
		assert.Zero(t, tool.calls, kind)

		body, err := os.ReadFile(filepath.Join(out, "usr", "lib", "libhook.dylib"))
		require.NoError(t, err, kind)
		assert.Equal(t, "dylib", string(body))
	}
}

func TestExtractTarLikeRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.tar")
	require.NoError(t, os.WriteFile(src, tarBytes(t, entry{name: "../escape", body: "x"}), 0644))

	tool := &fakeTool{}
	assert.False(t, New(tool, nil).ExtractTarLike(src, filepath.Join(dir, "out")))
	assert.Equal(t, 1, tool.calls)
	assert.NoFileExists(t, filepath.Join(dir, "escape"))
}

func TestExtractTarLikeFallbackSucceeds(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.tar.lz4")
	require.NoError(t, os.WriteFile(src, []byte("opaque"), 0644))

	tool := &fakeTool{fn: func(_, dest string) error { return os.MkdirAll(dest, 0755) }}
	assert.True(t, New(tool, nil).ExtractTarLike(src, filepath.Join(dir, "out")))
	assert.Equal(t, 1, tool.calls)
}

func TestExtractTarLikeFallbackAfterPartialNative(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.tar")
	raw := tarBytes(t,
		entry{name: "Library/", typ: tar.TypeDir},
		entry{name: "Library/Hook.dylib", body: "native"},
		entry{name: "Library/Hook.plist", body: "native"},
		entry{name: "../escape", body: "x"},
	)
	require.NoError(t, os.WriteFile(src, raw, 0644))

	tool := &fakeTool{fn: func(_, dest string) error {
		if err := os.MkdirAll(filepath.Join(dest, "Library"), 0755); err != nil {
			return err
		}
		for _, name := range []string{"Hook.dylib", "Hook.plist"} {
			if err := os.WriteFile(filepath.Join(dest, "Library", name), []byte("tool"), 0644); err != nil {
				return err
			}
		}
		return nil
	}}
	out := filepath.Join(dir, "out")
	require.True(t, New(tool, nil).ExtractTarLike(src, out))
	assert.Equal(t, 1, tool.calls)

	for _, name := range []string{"Hook.dylib", "Hook.plist"} {
		body, err := os.ReadFile(filepath.Join(out, "Library", name))
		require.NoError(t, err)
		assert.Equal(t, "tool", string(body), name)
	}
	assert.NoFileExists(t, filepath.Join(dir, "escape"))
}

func TestExtractTarLikePlainTarWithMagicName(t *testing.T) {
	for _, name := range []string{"BZh-notes.txt", "BZh9"} {
		dir := t.TempDir()
		src := filepath.Join(dir, "data.tar")
		require.NoError(t, os.WriteFile(src, tarBytes(t, entry{name: name, body: "plain"}), 0644))

		kind, err := Identify(src)
		require.NoError(t, err)
		assert.Equal(t, KindTar, kind)

		tool := &fakeTool{}
		out := filepath.Join(dir, "out")
		require.True(t, New(tool, nil).ExtractTarLike(src, out), name)
		assert.Zero(t, tool.calls, name)
		body, err := os.ReadFile(filepath.Join(out, name))
		require.NoError(t, err)
		assert.Equal(t, "plain", string(body))
	}
}

func TestExtractTarLikeRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	src := filepath.Join(dir, "data.tar")
	raw := tarBytes(t,
		entry{name: "link", typ: tar.TypeSymlink, link: outside},
		entry{name: "link/sub/pwned", body: "x"},
	)
	require.NoError(t, os.WriteFile(src, raw, 0644))

	tool := &fakeTool{}
	assert.False(t, New(tool, nil).ExtractTarLike(src, filepath.Join(dir, "out")))
	assert.NoDirExists(t, filepath.Join(outside, "sub"))
}

func TestIdentify(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0644))
		return p
	}
	raw := tarBytes(t, entry{name: "a", body: "b"})

	tests := []struct {
		path string
		want Kind
	}{
		{writeDeb(t, dir, deb.CompressGzip), KindDeb},
		{write("a.zip", []byte("PK\x03\x04rest")), KindZip},
		{write("a.tar", raw), KindTar},
		{write("a.tar.gz", compress(t, "gz", raw)), KindTar},
		{write("a.tar.xz", compress(t, "xz", raw)), KindTar},
		{write("a.txt", []byte("hello")), KindUnknown},
	}
	for _, tt := range tests {
		got, err := Identify(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, filepath.Base(tt.path))
	}
}

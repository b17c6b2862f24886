package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etnz/deb2ipa/fault"
)

// layout creates files (or directories for names ending in "/") below root.
func layout(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if p[len(p)-1] == '/' {
			require.NoError(t, os.MkdirAll(full, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0644))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  Outcome
		app   string
	}{
		{"app", []string{"Applications/Foo.app/Foo", "Applications/Foo.app/Info.plist"}, AppFound, "Applications/Foo.app"},
		{"payload app", []string{"Payload/Bar.app/Bar"}, AppFound, "Payload/Bar.app"},
		{"first app wins", []string{"b/Zed.app/Zed", "a/Alpha.app/Alpha"}, AppFound, "a/Alpha.app"},
		{"tweak", []string{"Library/MobileSubstrate/DynamicLibraries/Hook.dylib"}, TweakDetected, ""},
		{"substrate without libs", []string{"Library/MobileSubstrate/readme"}, Unrecognized, ""},
		{"nothing", []string{"usr/bin/tool"}, Unrecognized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			layout(t, root, tt.paths...)

			got, err := Classify(root)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Outcome)
			if tt.app != "" {
				assert.Equal(t, filepath.Join(root, filepath.FromSlash(tt.app)), got.AppPath)
			}
		})
	}
}

func TestIsTweakNested(t *testing.T) {
	root := t.TempDir()
	layout(t, root, "var/jb/Library/MobileSubstrate/DynamicLibraries/")

	ok, err := IsTweak(root)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenAppBundle(t *testing.T) {
	root := t.TempDir()
	layout(t, root, "Foo.app/Foo", "Empty.app/Info.plist")

	app, err := OpenAppBundle(filepath.Join(root, "Foo.app"))
	require.NoError(t, err)
	assert.Equal(t, "Foo.app", app.Name())
	assert.Equal(t, filepath.Join(root, "Foo.app", "Foo"), app.Executable())

	_, err = OpenAppBundle(filepath.Join(root, "Empty.app"))
	assert.ErrorIs(t, err, fault.ErrStructure)
}

func TestFindPayloadBundle(t *testing.T) {
	root := t.TempDir()
	layout(t, root, "Payload/Foo.app/Foo", "Payload/iTunesMetadata.plist")

	app, err := FindPayloadBundle(root)
	require.NoError(t, err)
	assert.Equal(t, "Foo.app", app.Name())

	_, err = FindPayloadBundle(t.TempDir())
	assert.ErrorIs(t, err, fault.ErrStructure)

	empty := t.TempDir()
	layout(t, empty, "Payload/readme")
	_, err = FindPayloadBundle(empty)
	assert.ErrorIs(t, err, fault.ErrStructure)
}

func TestAnalyze(t *testing.T) {
	root := t.TempDir()
	layout(t, root,
		"Library/MobileSubstrate/DynamicLibraries/Hook.dylib",
		"Library/MobileSubstrate/DynamicLibraries/Hook.plist",
		"Library/Frameworks/Kit.framework/Kit",
		"Library/Frameworks/Kit.framework/Info.plist",
		"Library/Application Support/Hook.bundle/icon.png",
		"Library/PreferenceLoader/Preferences/Hook.plist",
		"Library/PreferenceBundles/HookPrefs.BUNDLE/Root.plist",
		"usr/lib/libextra.DYLIB",
		"usr/share/doc/readme",
		"etc/filter.plist",
		"etc/other.plist",
	)

	p, err := Analyze(root)
	require.NoError(t, err)

	rel := func(paths []string) []string {
		var out []string
		for _, path := range paths {
			r, err := filepath.Rel(root, path)
			require.NoError(t, err)
			out = append(out, filepath.ToSlash(r))
		}
		return out
	}

	assert.ElementsMatch(t, []string{"Library/MobileSubstrate/DynamicLibraries/Hook.dylib", "usr/lib/libextra.DYLIB"}, rel(p.Dylibs))
	assert.Equal(t, []string{"Library/Frameworks/Kit.framework"}, rel(p.Frameworks))
	assert.ElementsMatch(t, []string{"Library/Application Support/Hook.bundle", "Library/PreferenceBundles/HookPrefs.BUNDLE"}, rel(p.Bundles))
	assert.Equal(t, []string{"Library/PreferenceLoader/Preferences/Hook.plist"}, rel(p.Preferences))
	assert.ElementsMatch(t, []string{"Library/MobileSubstrate/DynamicLibraries/Hook.plist", "etc/filter.plist"}, rel(p.Filters))
	assert.ElementsMatch(t, []string{"usr/share/doc/readme", "etc/other.plist"}, rel(p.Other))
	assert.Equal(t, filepath.Join(root, "Library", "MobileSubstrate"), p.SubstrateDir)
	assert.Equal(t, filepath.Join(root, "Library"), p.LibraryDir)
	assert.False(t, p.Empty())

	seen := map[string]bool{}
	for _, list := range [][]string{p.Dylibs, p.Frameworks, p.Bundles, p.Preferences, p.Filters, p.Other} {
		for _, path := range list {
			assert.False(t, seen[path], "%s classified twice", path)
			seen[path] = true
		}
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	root := t.TempDir()
	layout(t, root, "Library/PreferenceLoader/Preferences/Hook.plist")

	p, err := Analyze(root)
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestAnalyzeSymlinks(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secret, []byte("host secret"), 0644))

	root := t.TempDir()
	dir := filepath.Join(root, "Library", "MobileSubstrate", "DynamicLibraries")
	layout(t, root, "Library/MobileSubstrate/DynamicLibraries/Real.dylib")
	require.NoError(t, os.Symlink(secret, filepath.Join(dir, "Hook.dylib")))
	require.NoError(t, os.Symlink("Real.dylib", filepath.Join(dir, "Alias.dylib")))
	require.NoError(t, os.Symlink("missing", filepath.Join(dir, "Dangling.dylib")))

	p, err := Analyze(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "Alias.dylib"), filepath.Join(dir, "Real.dylib")}, p.Dylibs)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "Hook.dylib"), filepath.Join(dir, "Dangling.dylib")}, p.Other)
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	layout(t, src, "Kit.framework/Kit", "Kit.framework/Headers/Kit.h")
	require.NoError(t, os.Symlink("Kit", filepath.Join(src, "Kit.framework", "Current")))
	require.NoError(t, os.Chmod(filepath.Join(src, "Kit.framework", "Kit"), 0755))

	dst := filepath.Join(t.TempDir(), "App.app", "Kit.framework")
	layout(t, filepath.Dir(dst), "Kit.framework/stale")
	require.NoError(t, ReplaceDir(filepath.Join(src, "Kit.framework"), dst))

	assert.NoFileExists(t, filepath.Join(dst, "stale"))
	body, err := os.ReadFile(filepath.Join(dst, "Headers", "Kit.h"))
	require.NoError(t, err)
	assert.Equal(t, "Kit.framework/Headers/Kit.h", string(body))

	fi, err := os.Stat(filepath.Join(dst, "Kit"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), fi.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dst, "Current"))
	require.NoError(t, err)
	assert.Equal(t, "Kit", link)
}

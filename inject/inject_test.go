package inject

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blacktop/go-macho/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etnz/deb2ipa/bundle"
	"github.com/etnz/deb2ipa/fault"
	"github.com/etnz/deb2ipa/macho"
	"github.com/etnz/deb2ipa/macho/machotest"
)

type fakeSlice struct {
	cpu     types.CPU
	archErr error
	fail    map[string]bool
	added   []string
}

func (s *fakeSlice) Arch() (types.CPU, error) { return s.cpu, s.archErr }

func (s *fakeSlice) AddLoadDependency(token string) error {
	if s.fail[token] {
		return errors.New("no room")
	}
	s.added = append(s.added, token)
	return nil
}

type fakeImage struct {
	slices []*fakeSlice
	writes int
}

func (img *fakeImage) Targets() []Slice {
	var out []Slice
	for _, s := range img.slices {
		out = append(out, s)
	}
	return out
}

func (img *fakeImage) Write(string) error {
	img.writes++
	return nil
}

func parserFor(img Image) Parser {
	return func(string) (Image, error) { return img, nil }
}

// newApp creates Foo.app with an executable holding exe.
func newApp(t *testing.T, exe []byte) *bundle.AppBundle {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Payload", "Foo.app")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Foo"), exe, 0755))
	app, err := bundle.OpenAppBundle(dir)
	require.NoError(t, err)
	return app
}

// newPayload creates a tweak tree and analyzes it.
func newPayload(t *testing.T, files ...string) *bundle.TweakPayload {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(f), 0644))
	}
	p, err := bundle.Analyze(root)
	require.NoError(t, err)
	return p
}

func TestSelectSlices(t *testing.T) {
	arm64 := &fakeSlice{cpu: types.CPUArm64}
	arm := &fakeSlice{cpu: types.CPUArm}
	x86 := &fakeSlice{cpu: types.CPUAmd64}
	unreadable := &fakeSlice{archErr: errors.New("bad header")}

	got, degraded := SelectSlices([]Slice{x86, arm, unreadable, arm64})
	assert.False(t, degraded)
	assert.Equal(t, []Slice{arm64, arm, unreadable}, got)

	got, degraded = SelectSlices([]Slice{x86, unreadable})
	assert.False(t, degraded)
	assert.Equal(t, []Slice{unreadable}, got)

	i386 := &fakeSlice{cpu: types.CPUI386}
	got, degraded = SelectSlices([]Slice{x86, i386})
	assert.True(t, degraded)
	assert.Equal(t, []Slice{x86, i386}, got)
}

func TestInjectNoARMPatchesEverySlice(t *testing.T) {
	img := &fakeImage{slices: []*fakeSlice{{cpu: types.CPUAmd64}, {cpu: types.CPUI386}}}
	app := newApp(t, []byte("exe"))
	payload := newPayload(t, "Library/MobileSubstrate/DynamicLibraries/Hook.dylib")

	report, err := New(parserFor(img), nil).Inject(app, payload)
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.Equal(t, 2, report.SlicesPatched)
	assert.Equal(t, 1, img.writes)
	for _, s := range img.slices {
		assert.Equal(t, []string{"@executable_path/Hook.dylib"}, s.added)
	}
	assert.FileExists(t, filepath.Join(app.Path, "Hook.dylib"))
}

func TestInjectPartialFailure(t *testing.T) {
	img := &fakeImage{slices: []*fakeSlice{
		{cpu: types.CPUArm64, fail: map[string]bool{"@executable_path/B.dylib": true}},
		{cpu: types.CPUArm},
	}}
	app := newApp(t, []byte("exe"))
	payload := newPayload(t, "usr/lib/A.dylib", "usr/lib/B.dylib")

	report, err := New(parserFor(img), nil).Inject(app, payload)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Attempts)
	assert.Equal(t, 3, report.Succeeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "@executable_path/B.dylib", report.Failures[0].Token)
	assert.Equal(t, 1, img.writes)
}

func TestInjectZeroSuccessWritesNothing(t *testing.T) {
	token := "@executable_path/Hook.dylib"
	img := &fakeImage{slices: []*fakeSlice{
		{cpu: types.CPUArm64, fail: map[string]bool{token: true}},
		{archErr: errors.New("unreadable"), fail: map[string]bool{token: true}},
	}}
	app := newApp(t, []byte("exe"))
	payload := newPayload(t, "Hook.dylib")

	report, err := New(parserFor(img), nil).Inject(app, payload)
	assert.ErrorIs(t, err, fault.ErrInjection)
	assert.Equal(t, 2, report.Attempts)
	assert.Zero(t, img.writes)
}

func TestInjectNoTokens(t *testing.T) {
	parsed := false
	parse := func(string) (Image, error) {
		parsed = true
		return nil, errors.New("unexpected")
	}
	exe := machotest.Thin(types.CPUArm64)
	app := newApp(t, exe)
	payload := newPayload(t,
		"Library/PreferenceLoader/Preferences/Hook.plist",
		"Library/Application Support/Hook.bundle/icon.png",
		"Library/Frameworks/Empty.framework/Info.plist",
	)

	_, err := New(parse, nil).Inject(app, payload)
	assert.ErrorIs(t, err, fault.ErrInjection)
	assert.False(t, parsed)

	got, err := os.ReadFile(app.Executable())
	require.NoError(t, err)
	assert.Equal(t, exe, got)
	assert.DirExists(t, filepath.Join(app.Path, "Empty.framework"))
	assert.DirExists(t, filepath.Join(app.Path, "Hook.bundle"))
	assert.FileExists(t, filepath.Join(app.Path, "Hook.plist"))
}

func TestInjectParseError(t *testing.T) {
	app := newApp(t, machotest.Garbage(64))
	payload := newPayload(t, "Hook.dylib")

	_, err := New(nil, nil).Inject(app, payload)
	assert.ErrorIs(t, err, fault.ErrInjection)
}

func TestInjectMachO(t *testing.T) {
	app := newApp(t, machotest.Fat(
		machotest.FatArch{CPU: types.CPUArm64, Data: machotest.Thin(types.CPUArm64)},
		machotest.FatArch{CPU: types.CPUAmd64, Data: machotest.Thin(types.CPUAmd64)},
	))
	payload := newPayload(t,
		"Library/MobileSubstrate/DynamicLibraries/Hook.dylib",
		"Library/Frameworks/Kit.framework/Kit",
	)

	report, err := New(nil, nil).Inject(app, payload)
	require.NoError(t, err)
	want := []string{"@executable_path/Hook.dylib", "@executable_path/Kit.framework/Kit"}
	assert.Equal(t, want, report.Tokens)

	img, err := macho.Parse(app.Executable())
	require.NoError(t, err)
	arm, err := img.Slices()[0].LoadDependencies()
	require.NoError(t, err)
	assert.Equal(t, want, arm)
	intel, err := img.Slices()[1].LoadDependencies()
	require.NoError(t, err)
	assert.Empty(t, intel)
}

func TestInjectSingle(t *testing.T) {
	dylib := filepath.Join(t.TempDir(), "Hook.dylib")
	require.NoError(t, os.WriteFile(dylib, []byte("lib"), 0644))

	arm := &fakeSlice{cpu: types.CPUArm}
	arm64 := &fakeSlice{cpu: types.CPUArm64}
	img := &fakeImage{slices: []*fakeSlice{arm, arm64}}
	app := newApp(t, []byte("exe"))

	report, err := New(parserFor(img), nil).InjectSingle(app, dylib)
	require.NoError(t, err)
	assert.False(t, report.Degraded)
	assert.Empty(t, arm.added)
	assert.Equal(t, []string{"@executable_path/Hook.dylib"}, arm64.added)
	assert.FileExists(t, filepath.Join(app.Path, "Hook.dylib"))
}

func TestInjectSingleFallsBackToFirstSlice(t *testing.T) {
	dylib := filepath.Join(t.TempDir(), "Hook.dylib")
	require.NoError(t, os.WriteFile(dylib, []byte("lib"), 0644))

	first := &fakeSlice{cpu: types.CPUAmd64}
	second := &fakeSlice{cpu: types.CPUArm}
	img := &fakeImage{slices: []*fakeSlice{first, second}}

	report, err := New(parserFor(img), nil).InjectSingle(newApp(t, []byte("exe")), dylib)
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.Len(t, first.added, 1)
	assert.Empty(t, second.added)
}

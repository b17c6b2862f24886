// Package bundle locates application bundles and classifies the content of
// tweak packages.
package bundle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/etnz/deb2ipa/fault"
)

// AppSuffix is the directory suffix of an application bundle.
const AppSuffix = ".app"

// AppBundle is an application bundle directory whose main executable is
// named after the bundle.
type AppBundle struct {
	Path string
}

// Name is the bundle directory name, e.g. "Foo.app".
func (a *AppBundle) Name() string { return filepath.Base(a.Path) }

// Executable is the path of the main executable.
func (a *AppBundle) Executable() string {
	return filepath.Join(a.Path, strings.TrimSuffix(a.Name(), filepath.Ext(a.Name())))
}

// OpenAppBundle checks that path is a bundle with a main executable.
func OpenAppBundle(path string) (*AppBundle, error) {
	a := &AppBundle{Path: path}
	fi, err := os.Stat(a.Executable())
	if err != nil || !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: main executable missing in %s", fault.ErrStructure, a.Name())
	}
	return a, nil
}

// FindAppBundle walks root depth-first in lexical order and returns the
// first directory named *.app, or "" when there is none.
func FindAppBundle(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root && strings.HasSuffix(d.Name(), AppSuffix) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}
	return found, nil
}

// FindPayloadBundle returns the first *.app entry under <ipaRoot>/Payload.
func FindPayloadBundle(ipaRoot string) (*AppBundle, error) {
	entries, err := os.ReadDir(filepath.Join(ipaRoot, "Payload"))
	if err != nil {
		return nil, fmt.Errorf("%w: no Payload directory", fault.ErrStructure)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), AppSuffix) {
			return OpenAppBundle(filepath.Join(ipaRoot, "Payload", entry.Name()))
		}
	}
	return nil, fmt.Errorf("%w: no .app bundle in Payload", fault.ErrStructure)
}

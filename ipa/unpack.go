package ipa

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/etnz/deb2ipa/fault"
)

// Unpack extracts the archive at ipaPath into destDir. Entries may not
// escape destDir, neither by name nor through a symlink extracted earlier.
func Unpack(ipaPath, destDir string) error {
	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", fault.ErrExtraction, filepath.Base(ipaPath), err)
	}
	defer r.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("%w: %v", fault.ErrExtraction, err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("%w: %v", fault.ErrExtraction, err)
	}
	for _, f := range r.File {
		if err := extractFile(f, root, realRoot); err != nil {
			return fmt.Errorf("%w: %s: %v", fault.ErrExtraction, f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, root, realRoot string) error {
	target := filepath.Join(root, filepath.FromSlash(f.Name))
	if !within(root, target) {
		return fmt.Errorf("path traversal detected")
	}

	mode := f.Mode()
	if mode.IsDir() {
		if err := checkResolved(realRoot, target); err != nil {
			return err
		}
		return os.MkdirAll(target, 0755)
	}
	if err := checkResolved(realRoot, filepath.Dir(target)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		os.Remove(target)
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	if mode&os.ModeSymlink != 0 {
		link, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(string(link), target)
	}

	perm := mode.Perm() | 0600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// checkResolved resolves the deepest existing ancestor of path, symlinks
// included, and rejects it when it lies outside realRoot. Components that
// do not exist yet are created as plain directories below it.
func checkResolved(realRoot, path string) error {
	existing := path
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return err
	}
	if !within(realRoot, resolved) {
		return fmt.Errorf("path traversal through symlink: %s", path)
	}
	return nil
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

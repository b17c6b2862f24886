package bundle

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// TweakPayload lists the files of an extracted tweak by role. Every path
// appears in exactly one list.
type TweakPayload struct {
	Dylibs      []string
	Frameworks  []string
	Bundles     []string
	Preferences []string
	Filters     []string
	Other       []string

	// SubstrateDir is the first MobileSubstrate directory found, if any.
	SubstrateDir string
	// LibraryDir is the first Library directory found, if any.
	LibraryDir string
}

// Empty reports whether the payload holds nothing injectable.
func (p *TweakPayload) Empty() bool {
	return len(p.Dylibs) == 0 && len(p.Frameworks) == 0
}

// Analyze walks root once and sorts every entry into the payload lists.
// Suffix tests ignore case. Frameworks and bundles are recorded as a whole
// and not descended into. Symlinks leading outside root land in Other,
// which is never copied.
func Analyze(root string) (*TweakPayload, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", root, err)
	}
	p := &TweakPayload{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		name := strings.ToLower(d.Name())

		if d.IsDir() {
			switch {
			case strings.HasSuffix(name, ".framework"):
				p.Frameworks = append(p.Frameworks, path)
				return filepath.SkipDir
			case strings.HasSuffix(name, ".bundle"):
				p.Bundles = append(p.Bundles, path)
				return filepath.SkipDir
			case d.Name() == substrateDir && p.SubstrateDir == "":
				p.SubstrateDir = path
			case d.Name() == "Library" && p.LibraryDir == "":
				p.LibraryDir = path
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !resolvesWithin(realRoot, path) {
			p.Other = append(p.Other, path)
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = strings.ToLower(filepath.ToSlash(rel))

		switch {
		case strings.HasSuffix(name, ".dylib"):
			p.Dylibs = append(p.Dylibs, path)
		case strings.HasSuffix(name, ".plist") && strings.Contains(rel, "preferences"):
			p.Preferences = append(p.Preferences, path)
		case strings.HasSuffix(name, ".plist") && (strings.Contains(rel, "filter") || strings.Contains(rel, "substrate")):
			p.Filters = append(p.Filters, path)
		default:
			p.Other = append(p.Other, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", root, err)
	}
	return p, nil
}

// resolvesWithin reports whether the symlink at path resolves to an
// existing file below realRoot.
func resolvesWithin(realRoot, path string) bool {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	return target == realRoot || strings.HasPrefix(target, realRoot+string(filepath.Separator))
}

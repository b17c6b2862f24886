package bundle

import (
	"fmt"
	"io/fs"
	"path/filepath"
)

const (
	substrateDir = "MobileSubstrate"
	dynLibDir    = "DynamicLibraries"
)

// Outcome is the result of classifying an extracted tree.
type Outcome int

const (
	Unrecognized Outcome = iota
	AppFound
	TweakDetected
)

func (o Outcome) String() string {
	switch o {
	case AppFound:
		return "app"
	case TweakDetected:
		return "tweak"
	default:
		return "unrecognized"
	}
}

// Classification is the outcome of Classify. AppPath is set for AppFound.
type Classification struct {
	Outcome Outcome
	AppPath string
}

// IsTweak reports whether some MobileSubstrate directory below root has a
// DynamicLibraries subdirectory.
func IsTweak(root string) (bool, error) {
	found := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == dynLibDir && filepath.Base(filepath.Dir(path)) == substrateDir {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("walking %s: %w", root, err)
	}
	return found, nil
}

// Classify decides whether root holds an application bundle, a tweak, or
// neither. An application bundle wins over tweak markers.
func Classify(root string) (Classification, error) {
	app, err := FindAppBundle(root)
	if err != nil {
		return Classification{}, err
	}
	if app != "" {
		return Classification{Outcome: AppFound, AppPath: app}, nil
	}

	tweak, err := IsTweak(root)
	if err != nil {
		return Classification{}, err
	}
	if tweak {
		return Classification{Outcome: TweakDetected}, nil
	}
	return Classification{Outcome: Unrecognized}, nil
}

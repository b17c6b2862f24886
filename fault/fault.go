// Package fault defines the error taxonomy shared by the conversion and
// patching pipeline. Packages wrap these sentinels with context; callers
// classify with errors.Is.
package fault

import "errors"

var (
	// ErrExtraction means a container could not be unpacked: the archive tool
	// is missing or failed, or the container is malformed.
	ErrExtraction = errors.New("extraction failed")
	// ErrStructure means the extracted content does not have the expected
	// layout: no application bundle, no tweak marker, no library, or no main
	// executable.
	ErrStructure = errors.New("unexpected package structure")
	// ErrInjection means the main executable could not be parsed or patched,
	// or no load command could be added at all.
	ErrInjection = errors.New("injection failed")
	// ErrPackaging means the output application archive could not be written.
	ErrPackaging = errors.New("packaging failed")
)

// Kind returns a short name for the taxonomy class of err, suitable for an
// event payload. It returns "internal" for errors outside the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrStructure):
		return "structure"
	case errors.Is(err, ErrInjection):
		return "injection"
	case errors.Is(err, ErrPackaging):
		return "packaging"
	default:
		return "internal"
	}
}

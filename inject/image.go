package inject

import (
	"github.com/blacktop/go-macho/types"

	"github.com/etnz/deb2ipa/macho"
)

// Slice is one architecture slice of an executable.
type Slice interface {
	// Arch returns the CPU tag, or an error when it cannot be read.
	Arch() (types.CPU, error)
	AddLoadDependency(token string) error
}

// Image is a loaded executable.
type Image interface {
	Targets() []Slice
	Write(path string) error
}

// Parser loads the executable at path.
type Parser func(path string) (Image, error)

// ParseMachO is the default Parser.
func ParseMachO(path string) (Image, error) {
	img, err := macho.Parse(path)
	if err != nil {
		return nil, err
	}
	return machoImage{img}, nil
}

type machoImage struct{ *macho.Image }

func (m machoImage) Targets() []Slice {
	var out []Slice
	for _, s := range m.Slices() {
		out = append(out, s)
	}
	return out
}

// archName renders a slice tag for logs and reports.
func archName(s Slice) string {
	cpu, err := s.Arch()
	if err != nil {
		return "unknown"
	}
	return cpu.String()
}

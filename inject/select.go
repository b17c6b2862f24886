package inject

import "github.com/blacktop/go-macho/types"

// SelectSlices picks the slices to patch: ARM64 slices first, then ARM
// ones, plus every slice whose tag cannot be read. When that leaves nothing,
// all slices are returned and degraded is true.
func SelectSlices(slices []Slice) (selected []Slice, degraded bool) {
	var arm64, arm, unknown []Slice
	for _, s := range slices {
		cpu, err := s.Arch()
		switch {
		case err != nil:
			unknown = append(unknown, s)
		case cpu == types.CPUArm64:
			arm64 = append(arm64, s)
		case cpu == types.CPUArm:
			arm = append(arm, s)
		}
	}
	selected = append(append(append(selected, arm64...), arm...), unknown...)
	if len(selected) == 0 {
		return append([]Slice(nil), slices...), true
	}
	return selected, false
}

// legacySlice returns the first ARM64 slice, or the first slice when there
// is none. ok is false when slices is empty.
func legacySlice(slices []Slice) (s Slice, fallback bool, ok bool) {
	for _, s := range slices {
		if cpu, err := s.Arch(); err == nil && cpu == types.CPUArm64 {
			return s, false, true
		}
	}
	if len(slices) == 0 {
		return nil, false, false
	}
	return slices[0], true, true
}

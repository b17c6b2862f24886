package macho

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blacktop/go-macho/types"
)

var (
	// ErrNotMachO is returned when the input is neither a thin nor a fat Mach-O.
	ErrNotMachO = errors.New("not a Mach-O file")
	// ErrMalformed is returned when load commands run outside the slice.
	ErrMalformed = errors.New("malformed Mach-O")
	// ErrNoSpace is returned when the header padding cannot hold a new command.
	ErrNoSpace = errors.New("not enough header padding")
)

// Image is a parsed Mach-O file held in memory.
type Image struct {
	buf    []byte
	fat    bool
	slices []*Slice
}

// Slice is one architecture slice of an Image. For a thin file the only
// slice covers the whole file.
type Slice struct {
	Offset int64
	data   []byte
}

// Parse reads and parses the Mach-O file at path.
func Parse(path string) (*Image, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(buf)
}

// ParseBytes parses an in-memory Mach-O file. The image keeps buf and
// patches it in place.
func ParseBytes(buf []byte) (*Image, error) {
	if len(buf) < 8 {
		return nil, ErrNotMachO
	}

	switch binary.BigEndian.Uint32(buf) {
	case fatMagic, fatMagic64:
		return parseFat(buf)
	}

	s := &Slice{data: buf}
	if _, _, err := s.header(); err != nil {
		return nil, err
	}
	return &Image{buf: buf, slices: []*Slice{s}}, nil
}

func parseFat(buf []byte) (*Image, error) {
	is64 := binary.BigEndian.Uint32(buf) == fatMagic64
	n := binary.BigEndian.Uint32(buf[4:])
	entrySize := 20
	if is64 {
		entrySize = 32
	}
	if n == 0 || int(n)*entrySize+8 > len(buf) {
		return nil, fmt.Errorf("%w: bad fat header with %d entries", ErrNotMachO, n)
	}

	img := &Image{buf: buf, fat: true}
	for i := 0; i < int(n); i++ {
		e := buf[8+i*entrySize:]
		var off, size uint64
		if is64 {
			off = binary.BigEndian.Uint64(e[8:])
			size = binary.BigEndian.Uint64(e[16:])
		} else {
			off = uint64(binary.BigEndian.Uint32(e[8:]))
			size = uint64(binary.BigEndian.Uint32(e[12:]))
		}
		if off+size > uint64(len(buf)) || off+size < off {
			return nil, fmt.Errorf("%w: fat slice %d out of bounds", ErrMalformed, i)
		}
		img.slices = append(img.slices, &Slice{
			Offset: int64(off),
			data:   buf[off : off+size : off+size],
		})
	}
	return img, nil
}

// Fat reports whether the image is a universal binary.
func (img *Image) Fat() bool { return img.fat }

// Slices returns the architecture slices in file order.
func (img *Image) Slices() []*Slice { return img.slices }

// Bytes returns the current file content.
func (img *Image) Bytes() []byte { return img.buf }

// Write stores the image at path. The content goes to a temporary file in
// the same directory which then replaces path, so a failed write leaves the
// previous file untouched. The mode of an existing file is kept.
func (img *Image) Write(path string) error {
	mode := os.FileMode(0755)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(img.buf); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// header returns the byte order and word size of the slice.
func (s *Slice) header() (binary.ByteOrder, bool, error) {
	if len(s.data) < header32Size {
		return nil, false, ErrNotMachO
	}
	var (
		order binary.ByteOrder
		is64  bool
	)
	switch binary.LittleEndian.Uint32(s.data) {
	case magic32:
		order = binary.LittleEndian
	case magic64:
		order, is64 = binary.LittleEndian, true
	case cigam32:
		order = binary.BigEndian
	case cigam64:
		order, is64 = binary.BigEndian, true
	default:
		return nil, false, ErrNotMachO
	}
	if is64 && len(s.data) < header64Size {
		return nil, false, ErrNotMachO
	}
	return order, is64, nil
}

// Arch returns the CPU type read from the slice's own Mach header.
func (s *Slice) Arch() (types.CPU, error) {
	order, _, err := s.header()
	if err != nil {
		return 0, err
	}
	return types.CPU(order.Uint32(s.data[4:])), nil
}

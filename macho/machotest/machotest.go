// Package machotest builds minimal Mach-O files for tests.
package machotest

import (
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
)

// TextOffset is the file offset of the __text section in Thin fixtures.
const TextOffset = 0x1000

// FatArch is one slice of a Fat fixture.
type FatArch struct {
	CPU  types.CPU
	Data []byte
}

// Is64 reports whether cpu uses the 64-bit header layout.
func Is64(cpu types.CPU) bool {
	return cpu&0x01000000 != 0
}

// HeaderEnd returns the offset right after the load commands of a Thin
// fixture for cpu.
func HeaderEnd(cpu types.CPU) int {
	if Is64(cpu) {
		return 32 + 72 + 80
	}
	return 28 + 56 + 68
}

// Thin returns a little-endian executable for cpu with a single __TEXT
// segment whose __text section starts at TextOffset.
func Thin(cpu types.CPU) []byte {
	return ThinAt(cpu, TextOffset)
}

// ThinAt is Thin with the __text section at textOff, which sets how much
// header padding the fixture has.
func ThinAt(cpu types.CPU, textOff uint32) []byte {
	le := binary.LittleEndian
	buf := make([]byte, int(textOff)+0x10)
	copy(buf[textOff:], []byte{0x1f, 0x20, 0x03, 0xd5})

	if Is64(cpu) {
		le.PutUint32(buf[0:], 0xfeedfacf)
		le.PutUint32(buf[4:], uint32(cpu))
		le.PutUint32(buf[12:], 2) // MH_EXECUTE
		le.PutUint32(buf[16:], 1)
		le.PutUint32(buf[20:], 72+80)

		seg := buf[32:]
		le.PutUint32(seg[0:], 0x19)
		le.PutUint32(seg[4:], 72+80)
		copy(seg[8:], "__TEXT")
		le.PutUint64(seg[40:], 0)
		le.PutUint64(seg[48:], uint64(len(buf)))
		le.PutUint32(seg[64:], 1)

		sect := seg[72:]
		copy(sect[0:], "__text")
		copy(sect[16:], "__TEXT")
		le.PutUint64(sect[40:], 0x10)
		le.PutUint32(sect[48:], textOff)
		return buf
	}

	le.PutUint32(buf[0:], 0xfeedface)
	le.PutUint32(buf[4:], uint32(cpu))
	le.PutUint32(buf[12:], 2)
	le.PutUint32(buf[16:], 1)
	le.PutUint32(buf[20:], 56+68)

	seg := buf[28:]
	le.PutUint32(seg[0:], 0x1)
	le.PutUint32(seg[4:], 56+68)
	copy(seg[8:], "__TEXT")
	le.PutUint32(seg[32:], 0)
	le.PutUint32(seg[36:], uint32(len(buf)))
	le.PutUint32(seg[48:], 1)

	sect := seg[56:]
	copy(sect[0:], "__text")
	copy(sect[16:], "__TEXT")
	le.PutUint32(sect[36:], 0x10)
	le.PutUint32(sect[40:], textOff)
	return buf
}

// Fat returns a universal binary holding arches, each slice aligned to
// 0x1000.
func Fat(arches ...FatArch) []byte {
	const align = 0x1000
	be := binary.BigEndian

	hdr := make([]byte, 8+20*len(arches))
	be.PutUint32(hdr[0:], 0xcafebabe)
	be.PutUint32(hdr[4:], uint32(len(arches)))

	buf := hdr
	for i, a := range arches {
		off := (len(buf) + align - 1) &^ (align - 1)
		buf = append(buf, make([]byte, off-len(buf))...)
		buf = append(buf, a.Data...)

		e := buf[8+20*i:]
		be.PutUint32(e[0:], uint32(a.CPU))
		be.PutUint32(e[8:], uint32(off))
		be.PutUint32(e[12:], uint32(len(a.Data)))
		be.PutUint32(e[16:], 12)
	}
	return buf
}

// Garbage returns n bytes that do not start with a Mach header.
func Garbage(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xa5
	}
	return buf
}

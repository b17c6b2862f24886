package extract

import (
	"bytes"
	"io"
	"os"
)

// Kind is the container kind of an archive, inferred from its content.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeb
	KindTar
	KindZip
)

func (k Kind) String() string {
	switch k {
	case KindDeb:
		return "deb"
	case KindTar:
		return "tar"
	case KindZip:
		return "zip"
	default:
		return "unknown"
	}
}

var (
	magicAr    = []byte("!<arch>\n")
	magicZip   = []byte("PK\x03\x04")
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte("BZh")
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLzma  = []byte{0x5d, 0x00, 0x00}
	magicUstar = []byte("ustar")
)

// ustarEnd is the end offset of the ustar marker in a tar header.
const ustarEnd = 262

// Identify sniffs the container kind of the file at path. Compressed
// streams are reported as KindTar.
func Identify(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindUnknown, err
	}
	return identify(head[:n]), nil
}

func identify(head []byte) Kind {
	switch {
	case bytes.HasPrefix(head, magicAr):
		return KindDeb
	case bytes.HasPrefix(head, magicZip):
		return KindZip
	case isTar(head), compressionOf(head) != "":
		return KindTar
	}
	return KindUnknown
}

// isTar reports whether head starts an uncompressed ustar or GNU tar.
func isTar(head []byte) bool {
	return len(head) >= ustarEnd && bytes.Equal(head[ustarEnd-5:ustarEnd], magicUstar)
}

// compressionOf names the compression wrapper announced by head, or "".
func compressionOf(head []byte) string {
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return "gzip"
	case bytes.HasPrefix(head, magicBzip2):
		return "bzip2"
	case bytes.HasPrefix(head, magicXz):
		return "xz"
	case bytes.HasPrefix(head, magicZstd):
		return "zstd"
	case bytes.HasPrefix(head, magicLzma):
		return "lzma"
	}
	return ""
}

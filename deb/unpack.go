package deb

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blakesmith/ar"
)

// ErrNotDeb is returned when the input does not start with an ar global header.
var ErrNotDeb = errors.New("not an ar archive")

// arMagic is the global header of every ar archive.
const arMagic = "!<arch>\n"

// memberName normalizes an ar member name. GNU ar terminates names with a
// slash and pads them with spaces.
func memberName(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// Unpack writes every member of the ar archive read from r into destDir,
// flat, and returns their paths in archive order.
func Unpack(r io.Reader, destDir string) ([]string, error) {
	br := &peekReader{r: r}
	if err := br.expect(arMagic); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}

	var members []string
	arR := ar.NewReader(br)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return members, fmt.Errorf("reading ar header: %w", err)
		}

		name := memberName(header.Name)
		if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
			return members, fmt.Errorf("invalid member name %q", header.Name)
		}

		path := filepath.Join(destDir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return members, err
		}
		if _, err := io.Copy(f, arR); err != nil {
			f.Close()
			return members, fmt.Errorf("writing member %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return members, err
		}
		members = append(members, path)
	}
	return members, nil
}

// DataMember returns the first data payload member among paths, or "".
func DataMember(paths []string) string {
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), DataPrefix) {
			return p
		}
	}
	return ""
}

// ReadMetadata reads the control metadata of the package read from r.
func ReadMetadata(r io.Reader) (*Metadata, error) {
	br := &peekReader{r: r}
	if err := br.expect(arMagic); err != nil {
		return nil, err
	}

	arR := ar.NewReader(br)
	for {
		header, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading ar header: %w", err)
		}
		name := memberName(header.Name)
		if !strings.HasPrefix(name, ControlPrefix) {
			continue
		}

		stream, closeStream, err := decompressMember(name, arR)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer closeStream()

		tr := tar.NewReader(stream)
		for {
			th, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("reading control tar header: %w", err)
			}
			if filepath.Base(th.Name) != string(FileControl) {
				continue
			}
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, tr); err != nil {
				return nil, fmt.Errorf("reading control: %w", err)
			}
			m := &Metadata{}
			parseControlFile(buf.String(), m)
			return m, nil
		}
	}
	return nil, fmt.Errorf("control file not found")
}

// peekReader checks a fixed prefix and then replays it to the ar reader.
type peekReader struct {
	r      io.Reader
	prefix []byte
}

func (p *peekReader) expect(magic string) error {
	buf := make([]byte, len(magic))
	n, err := io.ReadFull(p.r, buf)
	if err != nil || string(buf) != magic {
		return ErrNotDeb
	}
	p.prefix = buf[:n]
	return nil
}

func (p *peekReader) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.r.Read(b)
}

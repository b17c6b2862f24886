package deb

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// countingWriter wraps an io.Writer and counts the bytes written.
type countingWriter struct {
	w io.Writer
	n int64
}

// Write writes p to the underlying io.Writer and increments the byte count.
func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// addBufferToAr writes a named byte slice as a file entry to the AR archive.
// It constructs the AR header with mode 0644 and the current timestamp.
func addBufferToAr(w *ar.Writer, name string, body []byte) error {
	header := &ar.Header{
		Name:    name,
		Size:    int64(len(body)),
		Mode:    0644,
		ModTime: time.Now(),
	}
	if err := w.WriteHeader(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// decompressMember wraps r with the decoder implied by an ar member name
// suffix (control.tar.gz, data.tar.xz, ...). The returned closer must be
// called once the stream has been consumed.
func decompressMember(name string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gzr, func() { gzr.Close() }, nil
	case strings.HasSuffix(name, ".xz"):
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xzr, func() {}, nil
	case strings.HasSuffix(name, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(name, ".tar"):
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported member compression: %s", name)
	}
}

// parseControlFile parses the content of a Debian control file and populates the Metadata struct.
// It handles standard fields mapping to struct fields and puts unknown fields into ExtraFields.
// It also handles multiline values (folded fields).
func parseControlFile(content string, m *Metadata) {
	if m.ExtraFields == nil {
		m.ExtraFields = make(map[string]string)
	}
	var currentKey string
	var currentValue strings.Builder

	flush := func() {
		if currentKey == "" {
			return
		}
		val := strings.TrimSpace(currentValue.String())
		switch ControlField(currentKey) {
		case FieldPackage:
			m.Package = val
		case FieldName:
			m.Name = val
		case FieldVersion:
			m.Version = val
		case FieldArchitecture:
			m.Architecture = val
		case FieldMaintainer:
			m.Maintainer = val
		case FieldAuthor:
			m.Author = val
		case FieldDescription:
			m.Description = val
		case FieldSection:
			m.Section = val
		case FieldDepends:
			m.Depends = splitList(val)
		case FieldInstalledSize:
			// recomputed on write
		default:
			m.ExtraFields[currentKey] = val
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			currentValue.WriteString("\n" + line)
		} else if strings.Contains(line, ":") {
			flush()
			parts := strings.SplitN(line, ":", 2)
			currentKey = parts[0]
			currentValue.Reset()
			currentValue.WriteString(strings.TrimSpace(parts[1]))
		}
	}
	flush()
}

// splitList splits a comma-separated string into a slice of strings, trimming whitespace from each element.
// It returns nil if the input string is empty.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var res []string
	for _, p := range strings.Split(s, ",") {
		res = append(res, strings.TrimSpace(p))
	}
	return res
}

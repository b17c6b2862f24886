package extract

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// decompress wraps r with the decoder matching its leading magic bytes.
// Plain tar streams are returned unchanged, whatever their first entry
// name starts with.
func decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(ustarEnd)
	if isTar(head) {
		return br, func() {}, nil
	}

	switch compressionOf(head) {
	case "gzip":
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return gzr, func() { gzr.Close() }, nil
	case "bzip2":
		return bzip2.NewReader(br), func() {}, nil
	case "xz":
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return xzr, func() {}, nil
	case "zstd":
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case "lzma":
		lr, err := lzma.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return lr, func() {}, nil
	}
	return br, func() {}, nil
}

// untarFile decodes the tar stream at path into destDir.
func untarFile(path, destDir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stream, closeStream, err := decompress(f)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer closeStream()
	return untar(stream, destDir)
}

// untar writes every entry of the tar stream r below destDir.
func untar(r io.Reader, destDir string) error {
	root, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}

	tr := tar.NewReader(r)
	entries := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", err)
		}
		entries++

		target, err := securePath(root, hdr.Name)
		if err != nil {
			return err
		}
		if target == root {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := prepareParent(root, target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(root, target, os.FileMode(hdr.Mode).Perm()|0600, tr); err != nil {
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := prepareParent(root, target); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("linking %s: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			source, err := securePath(root, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := prepareParent(root, target); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(source, target); err != nil {
				return fmt.Errorf("linking %s: %w", hdr.Name, err)
			}
		default:
			// devices, fifos and pax globals carry nothing a bundle needs
		}
	}
	if entries == 0 {
		return fmt.Errorf("empty tar stream")
	}
	return nil
}

// securePath joins name below root and rejects names escaping it.
func securePath(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}
	return target, nil
}

// prepareParent creates the parent of target and checks that it does not
// resolve outside root through an extracted symlink. The check runs on the
// deepest existing ancestor before anything is created.
func prepareParent(root, target string) error {
	parent := filepath.Dir(target)
	existing := parent
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		up := filepath.Dir(existing)
		if up == existing {
			break
		}
		existing = up
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return err
	}
	if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(os.PathSeparator)) {
		return fmt.Errorf("path traversal through symlink: %s", target)
	}
	return os.MkdirAll(parent, 0755)
}

func writeEntry(root, target string, mode os.FileMode, r io.Reader) error {
	if err := prepareParent(root, target); err != nil {
		return err
	}
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		os.Remove(target)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

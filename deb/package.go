package deb

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/blakesmith/ar"
	"github.com/ulikunitz/xz"
)

// Package is an in-memory Debian binary package: control metadata plus the
// files of its data payload.
type Package struct {
	Metadata Metadata
	Files    []File

	// Compression selects the data member wrapper. The zero value writes an
	// uncompressed data.tar.
	Compression Compression
}

// Metadata maps the fields of the Debian 'control' file that matter for iOS
// packages.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html
type Metadata struct {
	// Package is the package identifier, e.g. "com.example.tweak".
	Package string
	// Name is the human readable name used by Cydia-style front ends.
	Name string
	// Version is [epoch:]upstream_version[-debian_revision].
	Version string
	// Architecture is "iphoneos-arm", "iphoneos-arm64" or "all".
	Architecture string
	Maintainer   string
	Author       string
	Description  string
	Section      string
	Depends      []string

	// ExtraFields holds any non-standard field found in the control file.
	ExtraFields map[string]string
}

// File is a single payload file.
type File struct {
	// DestPath is the absolute install path, e.g. "/Applications/Foo.app/Foo".
	DestPath string
	// Mode is the permission mode (0755 for executables, 0644 otherwise).
	Mode int64
	Body string
	// ModTime defaults to the current time when zero.
	ModTime time.Time
}

// StandardFilename returns the canonical filename for the package.
// Format: {Package}_{Version}_{Architecture}.deb
func (p *Package) StandardFilename() string {
	return fmt.Sprintf("%s_%s_%s.deb", p.Metadata.Package, p.Metadata.Version, p.Metadata.Architecture)
}

// WriteTo generates the .deb package and writes it to w.
// It satisfies the io.WriterTo interface.
func (p *Package) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	// The data archive comes first: the control archive needs its md5 sums.
	dataBuf := new(bytes.Buffer)
	md5Map, installedSize, err := p.buildDataArchive(dataBuf)
	if err != nil {
		return cw.n, fmt.Errorf("building data archive: %w", err)
	}

	controlBuf := new(bytes.Buffer)
	if err := p.buildControlArchive(controlBuf, md5Map, installedSize); err != nil {
		return cw.n, fmt.Errorf("building control archive: %w", err)
	}

	arW := ar.NewWriter(cw)
	if err := arW.WriteGlobalHeader(); err != nil {
		return cw.n, fmt.Errorf("writing ar global header: %w", err)
	}
	// Member order is mandated by deb(5).
	if err := addBufferToAr(arW, string(PkgDebianBinary), []byte("2.0\n")); err != nil {
		return cw.n, fmt.Errorf("writing %s: %w", PkgDebianBinary, err)
	}
	if err := addBufferToAr(arW, string(PkgControlTarGz), controlBuf.Bytes()); err != nil {
		return cw.n, fmt.Errorf("writing %s: %w", PkgControlTarGz, err)
	}
	dataName := p.Compression.memberName()
	if err := addBufferToAr(arW, dataName, dataBuf.Bytes()); err != nil {
		return cw.n, fmt.Errorf("writing %s: %w", dataName, err)
	}
	return cw.n, nil
}

// buildDataArchive writes the data member, compressed as configured.
// It returns the md5 sum of each file and the total installed size in bytes.
func (p *Package) buildDataArchive(w io.Writer) (map[string]string, int64, error) {
	var wc io.WriteCloser
	switch p.Compression {
	case CompressGzip:
		wc = gzip.NewWriter(w)
	case CompressXz:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, 0, err
		}
		wc = xw
	case CompressNone:
		wc = nopCloser{w}
	default:
		return nil, 0, fmt.Errorf("unsupported compression %q", p.Compression)
	}

	tw := tar.NewWriter(wc)
	md5Map := make(map[string]string)
	var installedSize int64

	for _, file := range p.Files {
		content := []byte(file.Body)
		hash := md5.Sum(content)
		md5Map[file.DestPath] = hex.EncodeToString(hash[:])
		installedSize += int64(len(content))

		// data.tar paths are relative and start with ./
		relPath := "./" + strings.TrimPrefix(file.DestPath, "/")
		header := &tar.Header{
			Name:     relPath,
			Size:     int64(len(content)),
			Mode:     file.Mode,
			ModTime:  file.ModTime,
			Typeflag: tar.TypeReg,
		}
		if header.ModTime.IsZero() {
			header.ModTime = time.Now()
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, 0, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, 0, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, 0, err
	}
	if err := wc.Close(); err != nil {
		return nil, 0, err
	}
	return md5Map, installedSize, nil
}

// buildControlArchive writes control.tar.gz with the control and md5sums files.
func (p *Package) buildControlArchive(w io.Writer, md5Map map[string]string, installedSize int64) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	writeEntry := func(name ControlFile, content []byte) error {
		header := &tar.Header{
			Name:    "./" + string(name),
			Size:    int64(len(content)),
			Mode:    0644,
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		_, err := tw.Write(content)
		return err
	}

	if err := writeEntry(FileControl, []byte(p.generateControlFile(installedSize))); err != nil {
		return fmt.Errorf("writing control: %w", err)
	}
	if err := writeEntry(FileMd5sums, []byte(p.generateMd5sums(md5Map))); err != nil {
		return fmt.Errorf("writing md5sums: %w", err)
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

func (p *Package) generateControlFile(installedBytes int64) string {
	var b strings.Builder

	writeField := func(field ControlField, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", field, value)
		}
	}

	writeField(FieldPackage, p.Metadata.Package)
	writeField(FieldName, p.Metadata.Name)
	writeField(FieldVersion, p.Metadata.Version)
	writeField(FieldArchitecture, p.Metadata.Architecture)
	writeField(FieldMaintainer, p.Metadata.Maintainer)
	writeField(FieldAuthor, p.Metadata.Author)

	// Installed-Size is in kilobytes, rounded up
	writeField(FieldInstalledSize, fmt.Sprintf("%d", (installedBytes+1023)/1024))
	writeField(FieldSection, p.Metadata.Section)
	if len(p.Metadata.Depends) > 0 {
		writeField(FieldDepends, strings.Join(p.Metadata.Depends, ", "))
	}

	var extraKeys []string
	for k := range p.Metadata.ExtraFields {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		writeField(ControlField(k), p.Metadata.ExtraFields[k])
	}

	if p.Metadata.Description != "" {
		lines := strings.Split(p.Metadata.Description, "\n")
		writeField(FieldDescription, lines[0])
		for _, line := range lines[1:] {
			if strings.TrimSpace(line) == "" {
				b.WriteString(" .\n")
			} else {
				fmt.Fprintf(&b, " %s\n", strings.TrimPrefix(line, " "))
			}
		}
	}
	return b.String()
}

func (p *Package) generateMd5sums(md5Map map[string]string) string {
	var paths []string
	for path := range md5Map {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		fmt.Fprintf(&b, "%s  %s\n", md5Map[path], strings.TrimPrefix(path, "/"))
	}
	return b.String()
}

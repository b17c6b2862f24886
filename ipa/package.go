// Package ipa reads and writes iOS application archives.
package ipa

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/etnz/deb2ipa/fault"
)

// PayloadDir is the top-level directory of an application archive.
const PayloadDir = "Payload"

// Package zips the Payload directory of root into outputPath. Entry names
// are relative to root, so they all start with "Payload/". Entries follow
// the filesystem walk order.
func Package(root, outputPath string) error {
	payload := filepath.Join(root, PayloadDir)
	if fi, err := os.Stat(payload); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s has no %s directory", fault.ErrPackaging, root, PayloadDir)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("%w: %v", fault.ErrPackaging, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", fault.ErrPackaging, err)
	}
	defer os.Remove(tmp.Name())

	if err := writeZip(tmp, root, payload); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing %s: %v", fault.ErrPackaging, filepath.Base(outputPath), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", fault.ErrPackaging, err)
	}
	if err := os.Rename(tmp.Name(), outputPath); err != nil {
		return fmt.Errorf("%w: %v", fault.ErrPackaging, err)
	}
	return nil
}

func writeZip(w io.Writer, root, payload string) error {
	zw := zip.NewWriter(w)
	err := filepath.WalkDir(payload, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			header.Name += "/"
			header.Method = zip.Store
			_, err = zw.CreateHeader(header)
			return err
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			header.Method = zip.Store
			fw, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			_, err = io.WriteString(fw, link)
			return err
		}

		header.Method = zip.Deflate
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(fw, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

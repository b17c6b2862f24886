// Package extract unpacks package containers and tar payloads.
//
// Every operation decodes in-process first and falls back to an external
// Tool against the same input and destination.
package extract

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/etnz/deb2ipa/deb"
	"github.com/etnz/deb2ipa/fault"
)

// Extractor runs the extraction cascade.
type Extractor struct {
	tool   Tool
	logger *zap.Logger
}

// New returns an Extractor falling back to tool. A nil tool means 7z from
// PATH.
func New(tool Tool, logger *zap.Logger) *Extractor {
	if tool == nil {
		tool = SevenZip{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{tool: tool, logger: logger}
}

// UnpackContainer writes every member of the package at archivePath into
// destDir and returns their paths.
func (e *Extractor) UnpackContainer(archivePath, destDir string) ([]string, error) {
	members, err := e.unpackNative(archivePath, destDir)
	if err == nil {
		return members, nil
	}
	e.logger.Warn("native container decode failed, using archive tool",
		zap.String("archive", archivePath), zap.Error(err))

	if err := e.tool.Extract(archivePath, destDir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", fault.ErrExtraction, destDir, err)
	}
	members = members[:0]
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			members = append(members, filepath.Join(destDir, entry.Name()))
		}
	}
	return members, nil
}

func (e *Extractor) unpackNative(archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return deb.Unpack(f, destDir)
}

// ExtractContainer unpacks the package at archivePath into destDir and
// returns the path of its data member.
func (e *Extractor) ExtractContainer(archivePath, destDir string) (string, error) {
	members, err := e.UnpackContainer(archivePath, destDir)
	if err != nil {
		return "", err
	}
	data := deb.DataMember(members)
	if data == "" {
		return "", fmt.Errorf("%w: no %s* member in %s", fault.ErrExtraction, deb.DataPrefix, filepath.Base(archivePath))
	}
	e.logger.Debug("container extracted", zap.String("archive", archivePath), zap.String("data", data))
	return data, nil
}

// ExtractTarLike decodes the tar stream at tarPath, compressed or not, into
// destDir. It reports whether the native decoder or the external tool
// succeeded.
func (e *Extractor) ExtractTarLike(tarPath, destDir string) bool {
	err := untarFile(tarPath, destDir)
	if err == nil {
		return true
	}
	e.logger.Warn("native tar decode failed, using archive tool",
		zap.String("archive", tarPath), zap.Error(err))

	if err := e.tool.Extract(tarPath, destDir); err != nil {
		e.logger.Error("archive tool failed", zap.String("archive", tarPath), zap.Error(err))
		return false
	}
	return true
}

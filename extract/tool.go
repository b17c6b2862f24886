package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/etnz/deb2ipa/fault"
)

// Tool is an external archive extractor used when native decoding fails.
type Tool interface {
	// Extract unpacks src into dest, overwriting existing files.
	Extract(src, dest string) error
}

// SevenZip runs the 7-Zip command line tool.
type SevenZip struct {
	// Path is the executable name or path, "7z" when empty.
	Path string
}

func (s SevenZip) bin() string {
	if s.Path == "" {
		return "7z"
	}
	return s.Path
}

// Extract runs `7z x <src> -o<dest> -y`.
func (s SevenZip) Extract(src, dest string) error {
	bin, err := exec.LookPath(s.bin())
	if err != nil {
		return fmt.Errorf("%w: archive tool %q not found", fault.ErrExtraction, s.bin())
	}

	var stderr bytes.Buffer
	cmd := exec.Command(bin, "x", src, "-o"+dest, "-y")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited with %d: %s", fault.ErrExtraction, s.bin(), exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("%w: running %s: %v", fault.ErrExtraction, s.bin(), err)
	}
	return nil
}

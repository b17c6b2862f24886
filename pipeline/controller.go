// Package pipeline sequences extraction, classification, injection and
// packaging into the Convert and Patch flows.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/etnz/deb2ipa/config"
	"github.com/etnz/deb2ipa/deb"
	"github.com/etnz/deb2ipa/extract"
	"github.com/etnz/deb2ipa/fault"
	"github.com/etnz/deb2ipa/github"
	"github.com/etnz/deb2ipa/inject"
	"github.com/etnz/deb2ipa/ipa"
	"github.com/etnz/deb2ipa/progress"
)

// Remote lists releases and downloads packages.
type Remote interface {
	Releases(ctx context.Context, owner, repo string) ([]github.Release, error)
	Download(ctx context.Context, rawURL, dest string) error
}

// Controller runs one flow at a time. It is not safe for concurrent use.
type Controller struct {
	cfg       config.Config
	emitter   *progress.Emitter
	logger    *zap.Logger
	extractor *extract.Extractor
	injector  *inject.Injector
	remote    Remote
	state     State
}

// Option configures a Controller.
type Option func(*Controller)

// WithExtractor replaces the default extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(c *Controller) { c.extractor = e }
}

// WithInjector replaces the default injector.
func WithInjector(in *inject.Injector) Option {
	return func(c *Controller) { c.injector = in }
}

// WithRemote replaces the GitHub client.
func WithRemote(r Remote) Option {
	return func(c *Controller) { c.remote = r }
}

// New returns a Controller reporting to emitter.
func New(cfg config.Config, emitter *progress.Emitter, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NewEmitter(nil, logger)
	}
	c := &Controller{cfg: cfg, emitter: emitter, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractor == nil {
		c.extractor = extract.New(extract.SevenZip{Path: cfg.ArchiveTool}, logger)
	}
	if c.injector == nil {
		c.injector = inject.New(nil, logger)
	}
	if c.remote == nil {
		c.remote = github.New(cfg.GitHubToken, cfg.UserAgent)
	}
	return c
}

// State returns the state reached by the last flow.
func (c *Controller) State() State { return c.state }

func (c *Controller) setState(s State) {
	c.logger.Debug("state", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
}

func (c *Controller) emit(stage, status string, fields progress.Fields) {
	c.emitter.Emit(stage, status, fields)
}

// fail reports err and moves to Failed. It returns err.
func (c *Controller) fail(err error) error {
	c.state = Failed
	c.logger.Error("operation failed", zap.Error(err))
	c.emit(progress.StageOperation, progress.StatusFailed, progress.Fields{
		"error": err.Error(),
		"kind":  fault.Kind(err),
	})
	return err
}

// workDir creates the temporary tree of one operation.
func (c *Controller) workDir() (string, error) {
	if c.cfg.WorkDir != "" {
		if err := os.MkdirAll(c.cfg.WorkDir, 0755); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(c.cfg.WorkDir, "deb2ipa-")
}

func (c *Controller) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn("could not remove temporary directory", zap.String("path", dir), zap.Error(err))
	}
}

// finish logs a produced archive and writes its optional checksum.
func (c *Controller) finish(out string) {
	if fi, err := os.Stat(out); err == nil {
		c.logger.Info("archive written", zap.String("path", out), zap.String("size", humanize.Bytes(uint64(fi.Size()))))
	}
	if !c.cfg.Checksums {
		return
	}
	sum, err := ipa.WriteChecksum(out, c.cfg.SigningKey)
	if err != nil {
		c.logger.Warn("could not write checksum", zap.String("path", out), zap.Error(err))
		return
	}
	c.logger.Info("checksum written", zap.String("path", sum.Path), zap.String("sha256", sum.SHA256))
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func mustExist(path, what string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s not found: %s", fault.ErrStructure, what, path)
	}
	return nil
}

// readMetadata returns the control metadata of a package, or nil.
func readMetadata(path string) *deb.Metadata {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	m, err := deb.ReadMetadata(f)
	if err != nil {
		return nil
	}
	return m
}

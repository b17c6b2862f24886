package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/etnz/deb2ipa/bundle"
	"github.com/etnz/deb2ipa/fault"
	"github.com/etnz/deb2ipa/github"
	"github.com/etnz/deb2ipa/ipa"
	"github.com/etnz/deb2ipa/progress"
)

// ConvertOptions tunes Convert.
type ConvertOptions struct {
	// OutputName is the archive name without extension. It defaults to the
	// package file name stem.
	OutputName string
	// DownloadURL is echoed in events when the package was downloaded.
	DownloadURL string
}

// Result is the outcome of Convert.
type Result struct {
	Outcome    Outcome
	OutputPath string
	// TweakPath is the extracted data member, set on OutcomeHalt.
	TweakPath string
	// WorkDir is the extracted tree kept on OutcomeHalt. The caller owns it.
	WorkDir string
}

// Convert turns the package at debPath into an application archive. A
// tweak package halts the flow with OutcomeHalt and a nil error.
func (c *Controller) Convert(debPath string, opts ConvertOptions) (Result, error) {
	c.setState(Idle)
	filename := filepath.Base(debPath)
	c.emit(progress.StageConversion, progress.StatusStarted, progress.Fields{
		"filename":     filename,
		"download_url": opts.DownloadURL,
	})

	work, err := c.workDir()
	if err != nil {
		return Result{Outcome: OutcomeFailure}, c.fail(fmt.Errorf("creating work directory: %w", err))
	}
	keep := false
	defer func() {
		if !keep {
			c.cleanup(work)
		}
	}()

	c.setState(Extracting)
	data, err := c.extractor.ExtractContainer(debPath, work)
	if err != nil {
		return Result{Outcome: OutcomeFailure}, c.fail(err)
	}
	if !c.extractor.ExtractTarLike(data, work) {
		return Result{Outcome: OutcomeFailure}, c.fail(fmt.Errorf("%w: failed to extract %s", fault.ErrExtraction, filepath.Base(data)))
	}

	c.setState(Classifying)
	cls, err := bundle.Classify(work)
	if err != nil {
		return Result{Outcome: OutcomeFailure}, c.fail(err)
	}

	switch cls.Outcome {
	case bundle.AppFound:
		c.setState(Packaging)
		out, err := c.packageApp(cls.AppPath, work, debPath, opts)
		if err != nil {
			return Result{Outcome: OutcomeFailure}, c.fail(err)
		}
		c.setState(Completed)
		fields := progress.Fields{
			"filename":     filename,
			"final_path":   out,
			"download_url": opts.DownloadURL,
		}
		if m := readMetadata(debPath); m != nil {
			fields["package"] = m.Package
			fields["version"] = m.Version
		}
		c.emit(progress.StageConversion, progress.StatusCompleted, fields)
		return Result{Outcome: OutcomeSuccess, OutputPath: out}, nil

	case bundle.TweakDetected:
		keep = true
		c.setState(AwaitingPatch)
		c.logger.Info("tweak detected, awaiting a base archive", zap.String("tweak_path", data))
		c.emit(progress.StageTweakDetected, progress.StatusAwaitingIPA, progress.Fields{
			"filename":     filename,
			"download_url": opts.DownloadURL,
			"tweak_path":   data,
		})
		return Result{Outcome: OutcomeHalt, TweakPath: data, WorkDir: work}, nil
	}

	return Result{Outcome: OutcomeFailure}, c.fail(fmt.Errorf("%w: no .app bundle found and not a recognized tweak structure", fault.ErrStructure))
}

// packageApp stages the bundle under Payload and zips it into the output
// directory.
func (c *Controller) packageApp(appPath, work, debPath string, opts ConvertOptions) (string, error) {
	staging := filepath.Join(work, "ipa-staging")
	dst := filepath.Join(staging, ipa.PayloadDir, filepath.Base(appPath))
	if err := bundle.CopyTree(appPath, dst); err != nil {
		return "", fmt.Errorf("%w: staging %s: %v", fault.ErrPackaging, filepath.Base(appPath), err)
	}

	name := opts.OutputName
	if name == "" {
		name = stem(debPath)
	}
	out := filepath.Join(c.cfg.OutputDir, name+".ipa")
	c.logger.Info("creating archive", zap.String("bundle", filepath.Base(appPath)), zap.String("path", out))
	if err := ipa.Package(staging, out); err != nil {
		return "", err
	}
	c.finish(out)
	return out, nil
}

// DownloadAndConvert fetches the package at rawURL into the download
// directory, unless already there, then converts it.
func (c *Controller) DownloadAndConvert(ctx context.Context, rawURL string) (Result, error) {
	filename := github.FileName(rawURL)
	path := filepath.Join(c.cfg.DownloadDir, filename)

	if _, err := os.Stat(path); err == nil {
		c.emit(progress.StageDownload, progress.StatusExists, progress.Fields{
			"filename":     filename,
			"download_url": rawURL,
			"path":         path,
		})
	} else {
		c.emit(progress.StageDownload, progress.StatusStarted, progress.Fields{
			"filename":     filename,
			"download_url": rawURL,
		})
		if err := c.remote.Download(ctx, rawURL, path); err != nil {
			return Result{Outcome: OutcomeFailure}, c.fail(err)
		}
		c.emit(progress.StageDownload, progress.StatusCompleted, progress.Fields{
			"filename":     filename,
			"download_url": rawURL,
			"path":         path,
		})
	}
	return c.Convert(path, ConvertOptions{DownloadURL: rawURL})
}

// FetchReleases reports the package releases of the repository at repoURL.
func (c *Controller) FetchReleases(ctx context.Context, repoURL string) ([]github.Release, error) {
	owner, repo, err := github.ParseRepoURL(repoURL)
	if err == nil {
		var releases []github.Release
		releases, err = c.remote.Releases(ctx, owner, repo)
		if err == nil {
			c.setState(Completed)
			c.emit(progress.StageGitHubReleases, progress.StatusCompleted, progress.Fields{"releases": releases})
			return releases, nil
		}
	}
	c.state = Failed
	c.logger.Error("fetching releases failed", zap.String("repo", repoURL), zap.Error(err))
	c.emit(progress.StageGitHub, progress.StatusFailed, progress.Fields{"error": err.Error()})
	return nil, err
}

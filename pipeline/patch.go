package pipeline

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/etnz/deb2ipa/bundle"
	"github.com/etnz/deb2ipa/deb"
	"github.com/etnz/deb2ipa/extract"
	"github.com/etnz/deb2ipa/fault"
	"github.com/etnz/deb2ipa/inject"
	"github.com/etnz/deb2ipa/ipa"
	"github.com/etnz/deb2ipa/progress"
)

// PatchResult is the outcome of a successful patch.
type PatchResult struct {
	OutputPath string
	Report     *inject.Report
	// Payload is nil for the single library flow.
	Payload *bundle.TweakPayload
}

// Patch injects the tweak payload tar at payloadPath into the application
// archive at ipaPath and writes <ipa>-patched-<payload>.ipa.
func (c *Controller) Patch(ipaPath, payloadPath string) (PatchResult, error) {
	c.setState(Idle)
	if err := mustExist(ipaPath, "IPA file"); err != nil {
		return PatchResult{}, c.fail(err)
	}
	if err := mustExist(payloadPath, "payload file"); err != nil {
		return PatchResult{}, c.fail(err)
	}
	c.emit(progress.StagePatch, progress.StatusStarted, progress.Fields{
		"ipa":      ipaPath,
		"data_tar": payloadPath,
	})

	work, err := c.workDir()
	if err != nil {
		return PatchResult{}, c.fail(fmt.Errorf("creating work directory: %w", err))
	}
	defer c.cleanup(work)

	c.setState(ExtractingBase)
	c.emit(progress.StagePatch, progress.StatusExtractingIPA, nil)
	ipaRoot := filepath.Join(work, "ipa")
	app, err := c.openBase(ipaPath, ipaRoot)
	if err != nil {
		return PatchResult{}, c.fail(err)
	}

	c.setState(ExtractingPayload)
	c.emit(progress.StagePatch, progress.StatusExtractingTar, nil)
	tweakRoot := filepath.Join(work, "tweak")
	if !c.extractor.ExtractTarLike(payloadPath, tweakRoot) {
		return PatchResult{}, c.fail(fmt.Errorf("%w: failed to extract %s", fault.ErrExtraction, filepath.Base(payloadPath)))
	}

	c.setState(ClassifyingPayload)
	payload, err := bundle.Analyze(tweakRoot)
	if err != nil {
		return PatchResult{}, c.fail(err)
	}
	c.logger.Info("tweak analyzed",
		zap.Int("dylibs", len(payload.Dylibs)),
		zap.Int("frameworks", len(payload.Frameworks)),
		zap.Int("bundles", len(payload.Bundles)),
		zap.Int("preferences", len(payload.Preferences)),
		zap.Int("filters", len(payload.Filters)))

	c.setState(Injecting)
	c.emit(progress.StagePatch, progress.StatusCopyingTweakFiles, nil)
	if err := c.injector.CopyPayload(app, payload); err != nil {
		return PatchResult{}, c.fail(err)
	}
	c.emit(progress.StagePatch, progress.StatusInjectingLibraries, nil)
	report, err := c.injector.InjectCopied(app, payload)
	if err != nil {
		return PatchResult{}, c.fail(err)
	}

	out := filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%s-patched-%s.ipa", stem(ipaPath), stem(payloadPath)))
	if err := c.repackage(ipaRoot, out); err != nil {
		return PatchResult{}, c.fail(err)
	}

	c.setState(Completed)
	c.emit(progress.StageOperation, progress.StatusCompleted, progress.Fields{
		"final_path":         out,
		"libraries_injected": len(report.Tokens),
		"dylibs_count":       len(payload.Dylibs),
		"frameworks_count":   len(payload.Frameworks),
		"bundles_count":      len(payload.Bundles),
		"preferences_count":  len(payload.Preferences),
		"filters_count":      len(payload.Filters),
		"degraded":           report.Degraded,
	})
	return PatchResult{OutputPath: out, Report: report, Payload: payload}, nil
}

// PatchWithTweak patches the archive at ipaPath with the tweak package at
// debPath. A bare tar and packages with a data member go through Patch.
// Others fall back to injecting their first dylib into a single slice.
func (c *Controller) PatchWithTweak(ipaPath, debPath string) (PatchResult, error) {
	c.setState(Idle)
	if err := mustExist(ipaPath, "IPA file"); err != nil {
		return PatchResult{}, c.fail(err)
	}
	if err := mustExist(debPath, "tweak package"); err != nil {
		return PatchResult{}, c.fail(err)
	}
	kind, err := extract.Identify(debPath)
	if err != nil {
		return PatchResult{}, c.fail(fmt.Errorf("%w: reading %s: %v", fault.ErrExtraction, filepath.Base(debPath), err))
	}
	if kind == extract.KindTar {
		c.logger.Info("tweak is a bare tar, patching with it directly", zap.String("tweak", debPath))
		return c.Patch(ipaPath, debPath)
	}

	work, err := c.workDir()
	if err != nil {
		return PatchResult{}, c.fail(fmt.Errorf("creating work directory: %w", err))
	}
	defer c.cleanup(work)

	debRoot := filepath.Join(work, "deb")
	members, err := c.extractor.UnpackContainer(debPath, debRoot)
	if err != nil {
		return PatchResult{}, c.fail(err)
	}
	if data := deb.DataMember(members); data != "" {
		return c.Patch(ipaPath, data)
	}
	c.logger.Info("no data member, using single library injection", zap.String("tweak", debPath))

	c.emit(progress.StagePatch, progress.StatusStarted, progress.Fields{
		"ipa":   ipaPath,
		"tweak": debPath,
	})
	c.setState(ExtractingBase)
	c.emit(progress.StagePatch, progress.StatusExtractingIPA, nil)
	ipaRoot := filepath.Join(work, "ipa")
	app, err := c.openBase(ipaPath, ipaRoot)
	if err != nil {
		return PatchResult{}, c.fail(err)
	}

	c.setState(ClassifyingPayload)
	dylib, err := firstDylib(debRoot)
	if err != nil {
		return PatchResult{}, c.fail(err)
	}
	c.logger.Info("found tweak dylib", zap.String("name", filepath.Base(dylib)))

	c.setState(Injecting)
	c.emit(progress.StagePatch, progress.StatusInjectingDylib, nil)
	report, err := c.injector.InjectSingle(app, dylib)
	if err != nil {
		return PatchResult{}, c.fail(err)
	}

	out := filepath.Join(c.cfg.OutputDir, stem(ipaPath)+"-patched.ipa")
	if err := c.repackage(ipaRoot, out); err != nil {
		return PatchResult{}, c.fail(err)
	}

	c.setState(Completed)
	c.emit(progress.StageOperation, progress.StatusCompleted, progress.Fields{
		"final_path":         out,
		"libraries_injected": 1,
		"degraded":           report.Degraded,
	})
	return PatchResult{OutputPath: out, Report: report}, nil
}

// openBase unpacks the base archive and locates its bundle.
func (c *Controller) openBase(ipaPath, root string) (*bundle.AppBundle, error) {
	if err := ipa.Unpack(ipaPath, root); err != nil {
		return nil, err
	}
	app, err := bundle.FindPayloadBundle(root)
	if err != nil {
		return nil, err
	}
	c.logger.Info("found app bundle", zap.String("bundle", app.Name()), zap.String("executable", filepath.Base(app.Executable())))
	return app, nil
}

func (c *Controller) repackage(root, out string) error {
	c.setState(Repackaging)
	c.emit(progress.StagePatch, progress.StatusRepackagingIPA, nil)
	c.logger.Info("creating final archive", zap.String("path", out))
	if err := ipa.Package(root, out); err != nil {
		return err
	}
	c.finish(out)
	return nil
}

// firstDylib returns the first *.dylib below root in lexical walk order.
func firstDylib(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".dylib") {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("searching %s: %w", root, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: could not find .dylib in tweak files", fault.ErrStructure)
	}
	return found, nil
}

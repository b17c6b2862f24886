// Package inject copies tweak libraries into an application bundle and adds
// load commands for them to the bundle's main executable.
package inject

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/etnz/deb2ipa/bundle"
	"github.com/etnz/deb2ipa/fault"
)

// TokenPrefix anchors load paths to the directory of the main executable.
const TokenPrefix = "@executable_path/"

// Failure is one (slice, token) pair that could not be injected.
type Failure struct {
	Arch  string
	Token string
	Err   error
}

// Report summarizes an injection.
type Report struct {
	Tokens        []string
	Attempts      int
	Succeeded     int
	Failures      []Failure
	Degraded      bool
	SlicesPatched int
}

// Injector patches application bundles.
type Injector struct {
	parse  Parser
	logger *zap.Logger
}

// New returns an Injector. A nil parse uses ParseMachO.
func New(parse Parser, logger *zap.Logger) *Injector {
	if parse == nil {
		parse = ParseMachO
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{parse: parse, logger: logger}
}

// Inject copies payload into app and adds a load command for every copied
// library to every selected slice of the main executable. The executable is
// rewritten only when at least one injection succeeded.
func (in *Injector) Inject(app *bundle.AppBundle, payload *bundle.TweakPayload) (*Report, error) {
	if err := in.CopyPayload(app, payload); err != nil {
		return nil, err
	}
	return in.InjectCopied(app, payload)
}

// InjectCopied is Inject for a payload already placed in the bundle by
// CopyPayload.
func (in *Injector) InjectCopied(app *bundle.AppBundle, payload *bundle.TweakPayload) (*Report, error) {
	report := &Report{Tokens: Tokens(app.Path, payload)}
	if len(report.Tokens) == 0 {
		return report, fmt.Errorf("%w: no libraries found to inject", fault.ErrInjection)
	}

	img, err := in.parse(app.Executable())
	if err != nil {
		return report, fmt.Errorf("%w: parsing %s: %v", fault.ErrInjection, filepath.Base(app.Executable()), err)
	}

	selected, degraded := SelectSlices(img.Targets())
	report.Degraded = degraded
	if degraded {
		in.logger.Warn("no ARM architecture detected, patching all slices", zap.Int("slices", len(selected)))
	}
	in.logger.Info("injecting libraries", zap.Int("slices", len(selected)), zap.Strings("tokens", report.Tokens))

	for _, s := range selected {
		patched := false
		for _, token := range report.Tokens {
			report.Attempts++
			if err := s.AddLoadDependency(token); err != nil {
				in.logger.Warn("injection failed", zap.String("arch", archName(s)), zap.String("token", token), zap.Error(err))
				report.Failures = append(report.Failures, Failure{Arch: archName(s), Token: token, Err: err})
				continue
			}
			report.Succeeded++
			patched = true
			in.logger.Info("injected", zap.String("arch", archName(s)), zap.String("token", token))
		}
		if patched {
			report.SlicesPatched++
		}
	}

	if report.Succeeded == 0 {
		return report, fmt.Errorf("%w: no injection succeeded out of %d attempts", fault.ErrInjection, report.Attempts)
	}
	if err := img.Write(app.Executable()); err != nil {
		return report, fmt.Errorf("%w: writing executable: %v", fault.ErrInjection, err)
	}
	return report, nil
}

// InjectSingle copies one dylib into app and injects it into a single
// slice: the ARM64 one, or the first slice when there is no ARM64 slice.
func (in *Injector) InjectSingle(app *bundle.AppBundle, dylib string) (*Report, error) {
	name := filepath.Base(dylib)
	if err := bundle.CopyFile(dylib, filepath.Join(app.Path, name)); err != nil {
		return nil, fmt.Errorf("%w: copying %s: %v", fault.ErrInjection, name, err)
	}

	token := TokenPrefix + name
	report := &Report{Tokens: []string{token}}

	img, err := in.parse(app.Executable())
	if err != nil {
		return report, fmt.Errorf("%w: parsing %s: %v", fault.ErrInjection, filepath.Base(app.Executable()), err)
	}
	s, fallback, ok := legacySlice(img.Targets())
	if !ok {
		return report, fmt.Errorf("%w: executable has no slice", fault.ErrInjection)
	}
	if fallback {
		in.logger.Warn("no ARM64 slice, using first available architecture", zap.String("arch", archName(s)))
		report.Degraded = true
	}

	report.Attempts = 1
	if err := s.AddLoadDependency(token); err != nil {
		report.Failures = append(report.Failures, Failure{Arch: archName(s), Token: token, Err: err})
		return report, fmt.Errorf("%w: injecting %s: %v", fault.ErrInjection, token, err)
	}
	report.Succeeded, report.SlicesPatched = 1, 1

	if err := img.Write(app.Executable()); err != nil {
		return report, fmt.Errorf("%w: writing executable: %v", fault.ErrInjection, err)
	}
	in.logger.Info("injected", zap.String("arch", archName(s)), zap.String("token", token))
	return report, nil
}

// CopyPayload places the payload files at the bundle root. Dylibs and
// plain files overwrite, directories replace existing ones.
func (in *Injector) CopyPayload(app *bundle.AppBundle, payload *bundle.TweakPayload) error {
	for _, p := range payload.Dylibs {
		if err := bundle.CopyFile(p, filepath.Join(app.Path, filepath.Base(p))); err != nil {
			return fmt.Errorf("%w: copying %s: %v", fault.ErrInjection, filepath.Base(p), err)
		}
		in.logger.Debug("copied dylib", zap.String("name", filepath.Base(p)))
	}
	for _, dirs := range [][]string{payload.Frameworks, payload.Bundles} {
		for _, p := range dirs {
			if err := bundle.ReplaceDir(p, filepath.Join(app.Path, filepath.Base(p))); err != nil {
				return fmt.Errorf("%w: copying %s: %v", fault.ErrInjection, filepath.Base(p), err)
			}
			in.logger.Debug("copied directory", zap.String("name", filepath.Base(p)))
		}
	}
	for _, files := range [][]string{payload.Preferences, payload.Filters} {
		for _, p := range files {
			if err := bundle.CopyFile(p, filepath.Join(app.Path, filepath.Base(p))); err != nil {
				return fmt.Errorf("%w: copying %s: %v", fault.ErrInjection, filepath.Base(p), err)
			}
		}
	}
	return nil
}

// Tokens returns the load paths for the payload once copied into the bundle
// at appDir. A framework contributes a token only when its executable exists.
func Tokens(appDir string, payload *bundle.TweakPayload) []string {
	var tokens []string
	for _, p := range payload.Dylibs {
		tokens = append(tokens, TokenPrefix+filepath.Base(p))
	}
	for _, p := range payload.Frameworks {
		dir := filepath.Base(p)
		exe := strings.TrimSuffix(dir, filepath.Ext(dir))
		if fi, err := os.Stat(filepath.Join(appDir, dir, exe)); err == nil && !fi.IsDir() {
			tokens = append(tokens, TokenPrefix+dir+"/"+exe)
		}
	}
	return tokens
}

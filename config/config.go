// Package config resolves the tool configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// Defaults.
const (
	DefaultPath        = "deb2ipa.yaml"
	DefaultDownloadDir = "./downloads"
	DefaultOutputDir   = "./converted"
	DefaultArchiveTool = "7z"
	DefaultLogDir      = "logs"
	DefaultUserAgent   = "DebMaster/3.2"
)

// Config is the resolved configuration. It is a value: components receive
// a copy and never change it.
type Config struct {
	DownloadDir string
	OutputDir   string
	// WorkDir is the parent of per-operation temporary directories. Empty
	// means the OS temp dir.
	WorkDir     string
	ArchiveTool string
	LogDir      string
	GitHubToken string
	// SigningKey is an armored PGP private key used to sign checksums.
	SigningKey string
	UserAgent  string
	// Checksums enables the .sha256 file next to each produced archive.
	Checksums bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DownloadDir: DefaultDownloadDir,
		OutputDir:   DefaultOutputDir,
		ArchiveTool: DefaultArchiveTool,
		LogDir:      DefaultLogDir,
		UserAgent:   DefaultUserAgent,
	}
}

// yamlConfig is the on-disk form.
type yamlConfig struct {
	DownloadDir string `yaml:"download_dir"`
	OutputDir   string `yaml:"output_dir"`
	WorkDir     string `yaml:"work_dir,omitempty"`
	ArchiveTool string `yaml:"archive_tool"`
	LogDir      string `yaml:"log_dir"`
	GitHubToken string `yaml:"github_token"`
	UserAgent   string `yaml:"user_agent"`
	Checksums   bool   `yaml:"checksums"`
}

// Load reads the file at path over the defaults, then applies the
// GITHUB_TOKEN and GPG_PRIVATE_KEY environment variables. A missing file
// yields the defaults and a default file is written at path, best effort.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		_ = Save(path, cfg)
	case err != nil:
		return Config{}, fmt.Errorf("reading config: %w", err)
	default:
		if cfg, err = decode(data); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := os.Getenv("GPG_PRIVATE_KEY"); v != "" {
		cfg.SigningKey = v
	}
	return cfg, nil
}

func decode(data []byte) (Config, error) {
	var dto yamlConfig
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return Config{}, err
	}

	// Map DTO to business object, keeping defaults for missing keys.
	cfg := Default()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.DownloadDir, dto.DownloadDir)
	set(&cfg.OutputDir, dto.OutputDir)
	set(&cfg.WorkDir, dto.WorkDir)
	set(&cfg.ArchiveTool, dto.ArchiveTool)
	set(&cfg.LogDir, dto.LogDir)
	set(&cfg.GitHubToken, dto.GitHubToken)
	set(&cfg.UserAgent, dto.UserAgent)
	cfg.Checksums = dto.Checksums
	return cfg, nil
}

// Save writes cfg to path. The signing key is never written.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(yamlConfig{
		DownloadDir: cfg.DownloadDir,
		OutputDir:   cfg.OutputDir,
		WorkDir:     cfg.WorkDir,
		ArchiveTool: cfg.ArchiveTool,
		LogDir:      cfg.LogDir,
		GitHubToken: cfg.GitHubToken,
		UserAgent:   cfg.UserAgent,
		Checksums:   cfg.Checksums,
	})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

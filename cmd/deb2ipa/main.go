// Command deb2ipa converts iOS packages into installable application
// archives and patches archives with tweak libraries.
//
// Progress is written to stdout as one JSON object per line. Logs go to
// stderr and to <log_dir>/deb2ipa.log.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/etnz/deb2ipa/config"
	"github.com/etnz/deb2ipa/pipeline"
	"github.com/etnz/deb2ipa/progress"
)

var (
	configPath  string
	verbose     bool
	outputName  string
	withDataTar string
	withTweak   string
)

var (
	// stdout carries the progress stream.
	stdout io.Writer = os.Stdout
	// reported is set once a failure has been written to the progress stream.
	reported bool
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs one command line and returns the exit status. Errors not yet
// on the progress stream, such as bad arguments, are emitted as fatal_error.
func execute(args []string, out, errOut io.Writer) int {
	stdout, reported = out, false
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	if err := rootCmd.Execute(); err != nil {
		if !reported {
			fatal(progress.NewJSONSink(out), err)
		}
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "deb2ipa",
	Short: "Convert iOS .deb packages into .ipa archives",
	Long: `deb2ipa turns packages that carry an application bundle into .ipa
archives. Packages that carry a tweak are detected and can be injected into
an existing .ipa with the patch command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var releasesCmd = &cobra.Command{
	Use:   "releases <repo-url>",
	Short: "List the releases of a GitHub repository that ship .deb files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context, c *pipeline.Controller) error {
			_, err := c.FetchReleases(ctx, args[0])
			return err
		})
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert <file.deb>",
	Short: "Convert a local package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context, c *pipeline.Controller) error {
			_, err := c.Convert(args[0], pipeline.ConvertOptions{OutputName: outputName})
			return err
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download a package and convert it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context, c *pipeline.Controller) error {
			_, err := c.DownloadAndConvert(ctx, args[0])
			return err
		})
	},
}

var patchCmd = &cobra.Command{
	Use:   "patch <base.ipa>",
	Short: "Inject tweak libraries into an existing .ipa",
	Long: `patch copies the libraries of a tweak into the application bundle of
base.ipa and adds load commands for them to its main executable. The tweak
is either an extracted data.tar member (--with-data-tar) or a whole package
(--with-tweak).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), func(ctx context.Context, c *pipeline.Controller) error {
			var err error
			if withDataTar != "" {
				_, err = c.Patch(args[0], withDataTar)
			} else {
				_, err = c.PatchWithTweak(args[0], withTweak)
			}
			return err
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	convertCmd.Flags().StringVar(&outputName, "output-name", "", "Name of the produced archive, without extension")
	patchCmd.Flags().StringVar(&withDataTar, "with-data-tar", "", "Tweak data.tar member to inject")
	patchCmd.Flags().StringVar(&withTweak, "with-tweak", "", "Tweak package to inject")
	patchCmd.MarkFlagsMutuallyExclusive("with-data-tar", "with-tweak")
	patchCmd.MarkFlagsOneRequired("with-data-tar", "with-tweak")

	rootCmd.AddCommand(releasesCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(patchCmd)
}

// run resolves the configuration, builds the controller and runs op.
// Failures of op are already reported as events; setup failures are
// reported as fatal_error.
func run(ctx context.Context, op func(context.Context, *pipeline.Controller) error) error {
	sink := progress.NewJSONSink(stdout)

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(sink, err)
		return err
	}

	logger := createLogger(cfg.LogDir, verbose)
	defer logger.Sync()

	for _, dir := range []string{cfg.DownloadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			err = fmt.Errorf("creating directory %s: %w", dir, err)
			logger.Error("setup failed", zap.Error(err))
			fatal(sink, err)
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := pipeline.New(cfg, progress.NewEmitter(sink, logger), logger)
	if err := op(ctx, c); err != nil {
		reported = true
		logger.Debug("operation ended with error", zap.Stringer("state", c.State()), zap.Error(err))
		return err
	}
	return nil
}

func fatal(sink progress.Sink, err error) {
	reported = true
	progress.NewEmitter(sink, nil).Emit(progress.StageFatal, progress.StatusFailed, progress.Fields{
		"error": err.Error(),
	})
}

// createLogger logs to stderr and, as JSON, to <logDir>/deb2ipa.log. When
// the log file cannot be opened it logs to stderr only.
func createLogger(logDir string, verbose bool) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		level.SetLevel(zap.DebugLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if isatty.IsTerminal(os.Stderr.Fd()) {
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level),
	}

	if f, err := openLogFile(logDir); err == nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	} else {
		fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
	}
	return zap.New(zapcore.NewTee(cores...))
}

func openLogFile(logDir string) (*os.File, error) {
	if logDir == "" {
		return nil, fmt.Errorf("no log directory")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(logDir, "deb2ipa.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

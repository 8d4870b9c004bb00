package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/CZERTAINLY/csop/internal/log"
	"github.com/CZERTAINLY/csop/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

// exit codes of operational failures, they never collide with severity ordinals
const (
	exitSoftware = 70
	exitIO       = 74
	exitConfig   = 78
)

var (
	userConfigPath string // /default/config/path/csop on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagLogFormat      string // value of --log-format flag

	flagInput         string
	flagOutput        string
	flagUpload        bool
	flagFailThreshold string
	flagHistoryLimit  int
	flagHistoryDelete bool
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "csop")
}

// exitError carries the process exit code of a failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is csop.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", log.FormatJSON, "log format: json or text")

	runCmd.Flags().StringVarP(&flagInput, "input", "i", ".", "directory with scanner reports")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "directory the report is written to")
	runCmd.Flags().BoolVar(&flagUpload, "upload", false, "upload reports and artifacts to S3, overrides upload.enabled")
	runCmd.Flags().StringVar(&flagFailThreshold, "fail-threshold", "", "informational, low, medium, high, critical or off, overrides fail_threshold")

	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 10, "number of runs to show")
	historyCmd.Flags().BoolVar(&flagHistoryDelete, "delete", false, "delete the run given as an argument")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse a config, setup logging
	rootCmd.PersistentPreRunE = initCSOP

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	os.Exit(exitCode(rootCmd.Execute()))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if !errors.As(err, &ee) {
		slog.Error("csop failed", "error", err)
		return exitSoftware
	}
	if ee.err == nil {
		// severity threshold reached, findings were reported already
		return ee.code
	}
	slog.Error("csop failed", "error", ee.err, "exit_code", ee.code)
	return ee.code
}

var rootCmd = &cobra.Command{
	Use:          "csop",
	Short:        "Normalizes security scanner output and evaluates it against a policy",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "parse scanner reports, write the report and exit with the worst failing severity",
	Args:  cobra.NoArgs,
	RunE:  doRun,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if configPath != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", configPath)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return exitWith(exitIO, err)
		}
		return enc.Close()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [run id]",
	Short: "list recent runs recorded in the history database, show or delete one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a csop",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			_, _ = fmt.Fprintln(out, "csop: version info not available")
			return
		}

		if configPath != "" {
			_, _ = fmt.Fprintf(out, "config: %s\n", configPath)
		}
		_, _ = fmt.Fprintf(out, "csop:   %s\n", info.Main.Version)
		_, _ = fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				_, _ = fmt.Fprintf(out, "commit: %s\n", s.Value)
			case "vcs.time":
				_, _ = fmt.Fprintf(out, "date:   %s\n", s.Value)
			case "vcs.modified":
				_, _ = fmt.Fprintf(out, "dirty:  %s\n", s.Value)
			}
		}
	},
}

func initCSOP(cmd *cobra.Command, _ []string) error {
	// log with flags only until the config is loaded
	logger, err := log.New(os.Stderr, flagVerbose, flagLogFormat)
	if err != nil {
		return exitWith(exitConfig, err)
	}
	slog.SetDefault(logger)

	if envConfig, ok := os.LookupEnv("CSOPCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "csop.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return exitWith(exitConfig, fmt.Errorf("opening config file: %w", err))
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return exitWith(exitConfig, fmt.Errorf("parsing config %s: %w", configPath, err))
		}
		config = *cfg
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		v := true
		config.Verbose = &v
	}

	logger, err = log.New(os.Stderr, config.IsVerbose(), flagLogFormat)
	if err != nil {
		return exitWith(exitConfig, err)
	}
	slog.SetDefault(logger)

	slog.Debug("csop run", "configPath", configPath)
	slog.Debug("csop run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

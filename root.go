package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphfs/internal/config"
	"github.com/tonimelisma/graphfs/internal/metrics"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath  string
	flagAccount     string
	flagDrive       string
	flagJSON        bool
	flagVerbose     bool
	flagQuiet       bool
	flagMetricsAddr string
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// logOutput is where buildLogger writes. Tests swap it for a buffer.
var logOutput io.Writer = os.Stderr

// metricsReadHeaderTimeout bounds slow clients of the metrics endpoint.
const metricsReadHeaderTimeout = 5 * time.Second

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "graphfs",
		Short:   "Use a OneDrive or SharePoint drive like a filesystem",
		Long:    "graphfs lists, reads, writes and reorganizes files on a Microsoft Graph drive by path.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(cmd); err != nil {
				return err
			}

			return startMetricsServer(buildLogger())
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAccount, "account", "", "account whose tokens are used")
	cmd.PersistentFlags().StringVar(&flagDrive, "drive", "", "drive ID (default: the account's own drive)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newCatCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newCpCmd())
	cmd.AddCommand(newTouchCmd())

	return cmd
}

// loadConfig resolves the effective configuration and stores it in resolvedCfg.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("account") {
		cli.Account = flagAccount
	}

	if cmd.Flags().Changed("drive") {
		cli.DriveID = flagDrive
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli, bootstrapLogger())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// bootstrapLogger is used before the config is loaded: warnings only,
// unless --verbose.
func bootstrapLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates the logger for a command. The config sets the
// baseline level and format; --verbose and --quiet override the level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.LogFormat
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(format, logOutput) {
		return slog.New(slog.NewJSONHandler(logOutput, opts))
	}

	return slog.New(slog.NewTextHandler(logOutput, opts))
}

// useJSONLogs resolves the "auto" format: text on a terminal, JSON otherwise.
func useJSONLogs(format string, w io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// startMetricsServer serves Prometheus metrics in the background when
// --metrics-addr is set. The listener is bound before returning so address
// errors surface immediately.
func startMetricsServer(logger *slog.Logger) error {
	if flagMetricsAddr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", flagMetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

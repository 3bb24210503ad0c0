// Package cmd provides the CLI commands for kbrobot.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Fang088/FF-KB-Robot/internal/config"
	"github.com/Fang088/FF-KB-Robot/internal/errors"
	"github.com/Fang088/FF-KB-Robot/internal/logging"
	"github.com/Fang088/FF-KB-Robot/internal/profiling"
	"github.com/Fang088/FF-KB-Robot/pkg/engine"
	"github.com/Fang088/FF-KB-Robot/pkg/version"
)

var (
	dataDir   string
	debugMode bool
)

// Profiling flags.
var (
	profileCPU string
	profileMem string
	profiler   = profiling.NewProfiler()
	cpuCleanup func()
)

// NewRootCmd creates the root command for the kbrobot CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kbrobot",
		Short: "Knowledge-base question answering over your documents",
		Long: `kbrobot ingests documents into named knowledge bases and answers
questions about them using retrieval-augmented generation.

Documents are chunked, embedded, and stored in a local vector index;
answers come with source citations and a confidence score.

Start with 'kbrobot kb create <name>' and 'kbrobot ingest <name> <path>'.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("kbrobot version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.kbrobot)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newKBCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newDocsCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command. Errors are formatted for humans,
// with suggestions when the error carries one.
func Execute() error {
	cmd := NewRootCmd()
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.FormatForUser(err, debugMode))
		return err
	}
	return nil
}

// startProfiling starts CPU profiling if requested.
func startProfiling(_ *cobra.Command, _ []string) error {
	if profileCPU == "" {
		return nil
	}
	cleanup, err := profiler.StartCPU(profileCPU)
	if err != nil {
		return fmt.Errorf("failed to start CPU profile: %w", err)
	}
	cpuCleanup = cleanup
	return nil
}

// stopProfiling stops CPU profiling and writes the memory profile if requested.
func stopProfiling(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}
	return nil
}

// loadConfig loads configuration with CLI flag overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openEngine opens the engine with file logging and returns a combined
// cleanup function. Callers must invoke cleanup when done.
func openEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logPath := cfg.Logging.FilePath
	if logPath == "" {
		logPath = filepath.Join(cfg.DataDir, "logs", "kbrobot.log")
	}
	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      logPath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.Stderr || debugMode,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	eng, err := engine.Open(ctx, cfg, logger)
	if err != nil {
		logCleanup()
		return nil, nil, err
	}

	cleanup := func() {
		_ = eng.Close()
		logCleanup()
	}
	return eng, cleanup, nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"profsnap/internal/logging"
	"profsnap/internal/snapshot"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// options holds the persistent flags shared by all subcommands.
type options struct {
	format   string
	db       string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "profsnap",
		Short:         "Inspect profiler snapshots",
		Long:          "profsnap reads profiler snapshot files, renders and analyzes their call trees and exports them into a SQLite session database.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			return logging.Setup(cmd.ErrOrStderr(), opts.logLevel, "text")
		},
		// No Run, prints help by default.
	}

	rootCmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&opts.db, "db", "profsnap.db", "session database path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newInspectCmd(opts))
	rootCmd.AddCommand(newTreeCmd(opts))
	rootCmd.AddCommand(newHotspotsCmd(opts))
	rootCmd.AddCommand(newStatsCmd(opts))
	rootCmd.AddCommand(newExportCmd(opts))
	rootCmd.AddCommand(newSessionsCmd(opts))
	rootCmd.AddCommand(newSynthCmd(opts))
	return rootCmd
}

func validateFormat(f string) error {
	switch f {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid format %q: must be json or text", f)
	}
}

// withSnapshot opens the snapshot at path for the duration of fn.
func withSnapshot(path string, fn func(*snapshot.Snapshot) error) (err error) {
	snap, err := snapshot.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := snap.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(snap)
}

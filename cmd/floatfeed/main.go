package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "floatfeed",
		Short: "floatfeed - prefetching float batch feed over ordered record stores",
		Long: `floatfeed reads training records from a LevelDB or bbolt store, crops,
mirrors and normalizes them, and prefetches fixed-size float batches on a
background goroutine while the consumer works on the previous one.

Configuration is read from a YAML file; FLOATFEED_* environment variables
(for example FLOATFEED_TRANSFORM_BATCH_SIZE) and command flags override it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to the feed configuration YAML file")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "floatfeed v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newIngestCommand(), newInspectCommand(), newRunCommand())
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

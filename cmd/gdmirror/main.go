package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/gdmirror/internal/config"
	"github.com/openmined/gdmirror/internal/utils"
	"github.com/openmined/gdmirror/internal/version"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           version.AppName,
		Short:         "Mirror a local directory with remote storage",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultConfigPath, "settings file")
	flags.String("log-level", "info", "minimum log level (trace, debug, info, warn, error, crit)")
	flags.String("log-file", "", "log file (default from settings)")
	flags.StringP("local-root", "l", "", "local directory to mirror")
	flags.StringP("remote-root", "r", "", "remote folder to mirror")
	flags.String("remote", "", "remote backend (s3, memory)")

	cmd.AddCommand(
		newSyncCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newLsCmd(),
		newHistoryCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		utils.Critical("gdmirror failed", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"time"

	"github.com/openmined/gdmirror/internal/client"
	"github.com/openmined/gdmirror/internal/sync"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var interval time.Duration
	var prefer string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously on local changes and on a poll interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			// nobody answers a prompt in the background
			var resolver sync.ConflictResolver = sync.SkipResolver{}
			if prefer != "" {
				r, err := newResolver(prefer)
				if err != nil {
					return err
				}
				resolver = r
			}

			cfg, closeLog, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			c, err := openClient(cfg, client.WithResolver(resolver))
			if err != nil {
				return err
			}
			defer c.Close()

			return c.Watch(cmd.Context(), interval)
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", client.DefaultPollInterval, "remote poll interval")
	cmd.Flags().StringVar(&prefer, "prefer", "", "settle conflicts without asking (local, remote)")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/gdmirror/internal/record"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <path>",
		Short: "Show every record kept for a path, relative to the sync roots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			c, err := openClient(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			recs, err := c.History(args[0])
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), yellow.Render("No records for "+args[0]))
				return err
			}
			return writeHistory(cmd.OutOrStdout(), recs)
		},
	}
}

func writeHistory(w io.Writer, recs []*record.Record) error {
	for _, r := range recs {
		state := string(r.Status)
		if r.Deleted {
			state = red.Render("deleted")
		}
		_, err := fmt.Fprintf(w, "%-6s %-8s %-20s %s  %s\n",
			r.Kind, state, r.UpdatedAt.Local().Format(time.DateTime), humanize.Time(r.UpdatedAt), r.Path)
		if err != nil {
			return err
		}
	}
	return nil
}

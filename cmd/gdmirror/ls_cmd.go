package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/record"
	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	var remoteSide bool

	cmd := &cobra.Command{
		Use:   "ls [pattern]",
		Short: "List recorded paths, optionally filtered by a glob such as '**/*.jpg'",
		Args:  cobra.MaximumNArgs(1),
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

			kind := entity.KindLocal
			if remoteSide {
				kind = entity.KindRemote
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			recs, err := c.Store().List(kind, pattern)
			if err != nil {
				return err
			}
			return writeList(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().BoolVar(&remoteSide, "remote-side", false, "list remote records instead of local ones")
	return cmd
}

func writeList(w io.Writer, recs []*record.Record) error {
	for _, r := range recs {
		size := gray.Render("dir")
		if !r.IsDir {
			size = humanize.Bytes(uint64(r.Size))
		}
		status := string(r.Status)
		if r.Status != record.StatusSynced {
			status = yellow.Render(status)
		}
		if _, err := fmt.Fprintf(w, "%-8s %8s  %s\n", status, size, r.Path); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/openmined/gdmirror/internal/config"
	"github.com/openmined/gdmirror/internal/entity"
	"github.com/openmined/gdmirror/internal/record"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the record store knows",
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

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), cfg, stats)
		},
	}
}

type kindStatus struct {
	Root     string                `yaml:"root"`
	Files    int                   `yaml:"files"`
	Dirs     int                   `yaml:"dirs"`
	Size     string                `yaml:"size"`
	ByStatus map[record.Status]int `yaml:"status,omitempty"`
}

type statusOutput struct {
	Local      kindStatus `yaml:"local"`
	Remote     kindStatus `yaml:"remote"`
	Deleted    int        `yaml:"deleted_records"`
	ChangeFeed string     `yaml:"change_token,omitempty"`
	Database   string     `yaml:"database"`
}

func writeStatus(w io.Writer, cfg *config.Config, stats *record.Stats) error {
	view := func(kind entity.Kind, root string) kindStatus {
		ks := stats.Kinds[kind]
		if ks == nil {
			return kindStatus{Root: root, Size: humanize.Bytes(0)}
		}
		return kindStatus{
			Root:     root,
			Files:    ks.Files,
			Dirs:     ks.Dirs,
			Size:     humanize.Bytes(uint64(ks.Bytes)),
			ByStatus: ks.ByStatus,
		}
	}
	return writeYAML(w, statusOutput{
		Local:      view(entity.KindLocal, cfg.LocalRoot),
		Remote:     view(entity.KindRemote, cfg.RemoteRoot),
		Deleted:    stats.Deleted,
		ChangeFeed: cfg.LastChangeToken,
		Database:   cfg.DBPath,
	})
}

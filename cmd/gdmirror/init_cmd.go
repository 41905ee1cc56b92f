package main

import (
	"fmt"

	"github.com/openmined/gdmirror/internal/config"
	"github.com/openmined/gdmirror/internal/utils"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			out := cmd.OutOrStdout()

			if utils.FileExists(path) {
				cfg, err := config.Load(path)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "Settings file already exists")
				printSettings(cmd, cfg)
				return nil
			}

			cfg := config.Default()
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintln(out, "Settings file created, update defaults and rerun")
			printSettings(cmd, cfg)
			return nil
		},
	}
}

func printSettings(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s%s\n", gray.Render("Settings     "), green.Render(cfg.Path))
	fmt.Fprintf(out, "%s%s\n", gray.Render("Local root   "), cyan.Render(cfg.LocalRoot))
	fmt.Fprintf(out, "%s%s\n", gray.Render("Remote root  "), cyan.Render(cfg.RemoteRoot))
	fmt.Fprintf(out, "%s%s\n", gray.Render("Credentials  "), cyan.Render(cfg.CredentialsFile))
}

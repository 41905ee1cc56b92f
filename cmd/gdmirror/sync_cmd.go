package main

import (
	"fmt"
	"io"

	"github.com/openmined/gdmirror/internal/client"
	"github.com/openmined/gdmirror/internal/sync"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSyncCmd() *cobra.Command {
	var full, dryRun bool
	var prefer string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := newResolver(prefer)
			if err != nil {
				return err
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

			if dryRun {
				res, err := c.Plan(cmd.Context(), full)
				if err != nil {
					return err
				}
				return writePlan(cmd.OutOrStdout(), res)
			}

			report, err := c.Sync(cmd.Context(), full)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().BoolVar(&full, "full", false, "rescan both trees instead of using the change feed")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print the task plan without executing it")
	cmd.Flags().StringVar(&prefer, "prefer", "", "settle conflicts without asking (local, remote)")
	return cmd
}

type planOutput struct {
	Tasks    []sync.PlanItem `yaml:"tasks"`
	NoChange int             `yaml:"no_change"`
	Dropped  int             `yaml:"unchanged"`
	Skipped  int             `yaml:"skipped"`
}

func writePlan(w io.Writer, res *sync.CheckResult) error {
	out := planOutput{
		Tasks:    []sync.PlanItem{},
		NoChange: res.NoChange,
		Dropped:  res.Dropped,
		Skipped:  res.Skipped,
	}
	for _, t := range res.Tasks {
		if t.Type.Actionable() {
			out.Tasks = append(out.Tasks, t.PlanItem())
		}
	}
	return writeYAML(w, out)
}

func writeReport(w io.Writer, report *sync.Report) error {
	if report.Total(report.Executed)+report.Total(report.Failed)+report.Total(report.Skipped) == 0 {
		_, err := fmt.Fprintln(w, green.Render("Everything up to date"))
		return err
	}
	return writeYAML(w, report)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

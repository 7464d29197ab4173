package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/EgorLis/my-media/internal/service/collector"
)

var withReconcile bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run one garbage collection pass and print the report",
	Long: `Deletes files and records of assets whose retention delay has expired.

Assets stuck in the claimed state by an earlier failed pass are retried first.
With --reconcile, slots holding more than one active asset are repaired before collecting.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Supersede all but the newest active asset in overcrowded slots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		n, err := core.Collector.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "superseded %d assets\n", n)
		return nil
	},
}

func init() {
	gcCmd.Flags().BoolVar(&withReconcile, "reconcile", false, "repair overcrowded slots before collecting")
}

func runGC(cmd *cobra.Command, _ []string) error {
	core, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	run := core.Collector.Collect
	if withReconcile {
		run = core.Collector.Sweep
	}
	rep, err := run(cmd.Context())
	if err != nil {
		return err
	}
	if err := printReport(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d assets failed, they will be retried by the next pass", rep.Failed)
	}
	return nil
}

func printReport(w io.Writer, rep collector.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

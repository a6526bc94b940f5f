package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"photopipe/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <batch-dir>",
		Short: "Reconcile an imported batch directory by hand",
		Long: `Reconcile generates the completion manifest for a batch directory whose
import already happened, then moves its files to the processed store.
Normally the watcher does this automatically; this command exists for
recovery after a crash between import and reconciliation.

It is idempotent: a batch with an existing completion manifest is left
untouched.`,
		Example: `  photopipe reconcile ~/IncomingPhotos/20260801_143005`,
		Args:    cobra.ExactArgs(1),
		RunE:    reconcileRun,
	}
}

func reconcileRun(cmd *cobra.Command, args []string) error {
	g := &reconcile.Generator{
		ReportsDir:   globalCfg.Paths.ReportsDir,
		ProcessedDir: globalCfg.Paths.ProcessedDir,
		Logger:       logger,
	}

	res, err := g.Run(args[0])
	if err != nil {
		return err
	}
	if res.AlreadyDone {
		fmt.Printf("Batch already reconciled: %s\n", res.ManifestPath)
		return nil
	}
	fmt.Printf("Reconciled %d files (%d warnings): %s\n",
		res.Completion.Count, len(res.Completion.Warnings), res.ManifestPath)
	for _, w := range res.Completion.Warnings {
		fmt.Println("  warning:", w)
	}
	return nil
}

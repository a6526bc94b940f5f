package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"photopipe/internal/metrics"
	"photopipe/internal/pipeline"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <file>...",
		Short: "Stage photos as a batch and transfer them to the destination",
		Long: `Send copies the given photos into a timestamped staging batch, wakes the
destination machine, uploads the batch over SFTP, and waits for the
destination to confirm the import with a completion manifest.

If confirmation does not arrive before the timeout the batch is left
pending, not failed; resolve it later with "photopipe status --recheck".`,
		Example: `  photopipe send ~/Pictures/export/*.heic
  photopipe send trip/IMG_0001.jpg trip/IMG_0002.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: sendRun,
	}
}

func sendRun(cmd *cobra.Command, args []string) error {
	if err := globalCfg.ValidateSource(); err != nil {
		return err
	}

	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := &pipeline.Pipeline{
		Config:  globalCfg,
		Store:   ledger,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	report, err := p.Send(ctx, args)
	if err != nil {
		return err
	}

	if report.Pending {
		fmt.Printf("Batch %s transferred (%d files, %d bytes) but not yet confirmed.\n",
			report.BatchID, report.FileCount, report.Bytes)
		fmt.Printf("Run: photopipe status --recheck %s\n", report.BatchID)
		return nil
	}

	c := report.Completion
	fmt.Printf("Batch %s imported: %d files", report.BatchID, c.Count)
	if len(c.Warnings) > 0 {
		fmt.Printf(", %d warnings", len(c.Warnings))
	}
	fmt.Println()
	for _, w := range c.Warnings {
		fmt.Println("  warning:", w)
	}
	return nil
}

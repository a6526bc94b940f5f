package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"photopipe/internal/metrics"
	"photopipe/internal/pipeline"
)

var (
	statusFilter  string
	statusLimit   int
	statusRecheck string
	statusFiles   string
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the batch ledger",
		Long: `Status lists sent batches with their outcome: staged, transferring,
awaiting import, imported, pending, or failed.

Use --recheck with a pending batch id to connect to the destination and
look for its completion manifest again.`,
		Example: `  photopipe status
  photopipe status --status pending
  photopipe status --files 20260801_143005
  photopipe status --recheck 20260801_143005`,
		RunE: statusRun,
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "only show batches with this status")
	cmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum number of batches to list")
	cmd.Flags().StringVar(&statusRecheck, "recheck", "", "batch id to recheck against the destination")
	cmd.Flags().StringVar(&statusFiles, "files", "", "batch id whose per-file records to list")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	if statusRecheck != "" {
		if err := globalCfg.ValidateSource(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p := &pipeline.Pipeline{
			Config:  globalCfg,
			Store:   ledger,
			Logger:  logger,
			Metrics: metrics.New(),
		}
		completion, err := p.Recheck(ctx, statusRecheck)
		if err != nil {
			return err
		}
		fmt.Printf("Batch %s imported: %d files, %d warnings\n",
			statusRecheck, completion.Count, len(completion.Warnings))
		return nil
	}

	if statusFiles != "" {
		files, err := ledger.ListBatchFiles(statusFiles)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No file records for batch", statusFiles)
			return nil
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Original Path", "Status", "Import Time", "Error"})
		for _, f := range files {
			t.AppendRow(table.Row{f.OriginalPath, f.Status, f.ImportTime, f.Error})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	}

	batches, err := ledger.ListBatches(statusFilter, statusLimit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Println("No batches recorded.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Batch", "Status", "Files", "Imported", "Warnings", "Completed", "Error"})
	for _, b := range batches {
		completed := ""
		if !b.CompletedAt.IsZero() {
			completed = b.CompletedAt.Format("2006-01-02 15:04:05")
		}
		t.AppendRow(table.Row{
			b.BatchID, b.Status, b.FileCount, b.ImportedCount, b.WarningCount, completed, b.ErrorMessage,
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

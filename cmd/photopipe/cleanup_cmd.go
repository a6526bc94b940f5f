package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"photopipe/internal/cleanup"
)

var cleanupStaging bool

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one retention pass",
		Long: `Cleanup applies the retention policy once and exits. On the destination
it purges processed batches past their window, archives them first when
archive_before_purge is set, and removes abandoned transfers from the
incoming store. With --staging it instead sweeps this machine's staging
directory of stale batches.`,
		Example: `  photopipe cleanup
  photopipe cleanup --staging`,
		RunE: cleanupRun,
	}

	cmd.Flags().BoolVar(&cleanupStaging, "staging", false, "sweep the local staging directory instead")
	return cmd
}

func cleanupRun(cmd *cobra.Command, args []string) error {
	if cleanupStaging {
		cleaner := &cleanup.SourceCleaner{
			StagingDir: globalCfg.Paths.StagingDir,
			Policy:     globalCfg.Cleanup,
			Logger:     logger,
		}
		n, err := cleaner.SweepStaging()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d stale staging directories.\n", n)
		return nil
	}

	sweeper := &cleanup.Sweeper{
		IncomingDir:  globalCfg.Paths.IncomingDir,
		ProcessedDir: globalCfg.Paths.ProcessedDir,
		ReportsDir:   globalCfg.Paths.ReportsDir,
		ArchiveDir:   globalCfg.Paths.ArchiveDir,
		Policy:       globalCfg.Cleanup,
		Logger:       logger,
	}
	report, err := sweeper.Sweep()
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d processed and %d incoming batches (%d archived).\n",
		report.PurgedProcessed, report.PurgedIncoming, report.Archived)
	return nil
}

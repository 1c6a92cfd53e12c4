package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quantflow/config"
	"quantflow/consolidate"
	"quantflow/failures"
	"quantflow/ingest"
)

func newFailuresCmd(a *App) *cobra.Command {
	failuresCmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect and replay failed provider calls",
	}

	failuresCmd.AddCommand(newFailuresExportCmd(a))
	failuresCmd.AddCommand(newFailuresRefetchCmd(a))

	return failuresCmd
}

func newFailuresExportCmd(a *App) *cobra.Command {
	var out string

	exportCmd := &cobra.Command{
		Use:   "export [dataset|all]",
		Short: "Scan raw files for failure sentinels and export them as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset := "all"
			if len(args) == 1 {
				dataset = args[0]
			}

			index := failures.NewIndex(a.store, a.cfg.Provider.BaseURL)
			entries, err := index.Scan(dataset)
			if err != nil {
				return err
			}
			if err := failures.Export(entries, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d failure entries to %s\n", len(entries), out)
			return nil
		},
	}

	exportCmd.Flags().StringVar(&out, "out", "failures.csv", "output CSV path")

	return exportCmd
}

func newFailuresRefetchCmd(a *App) *cobra.Command {
	var (
		pacing  time.Duration
		premium bool
	)

	refetchCmd := &cobra.Command{
		Use:   "refetch <csv>",
		Short: "Replay the failed calls listed in a failure export",
		Long: `Refetch overwrites only the (ticker, endpoint) pairs named in the CSV,
then rebuilds the affected final tables. Pairs outside the list are never
touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := failures.Load(args[0])
			if err != nil {
				return err
			}

			creds, err := config.LoadCredentials("")
			if err != nil {
				return err
			}
			source, err := a.providerSource(creds, premium)
			if err != nil {
				return err
			}

			if pacing <= 0 {
				pacing = a.cfg.Pipeline.RefetchPacing
			}

			orch := ingest.NewOrchestrator(a.cfg, a.store, source, nil)
			refetcher := failures.NewRefetcher(orch, consolidate.NewConsolidator(a.store))
			return refetcher.Refetch(cmd.Context(), entries, pacing)
		},
	}

	refetchCmd.Flags().DurationVar(&pacing, "pacing", 0, "delay between provider calls; defaults to pipeline.refetch_pacing")
	refetchCmd.Flags().BoolVar(&premium, "premium-key", false, "use the premium provider API key")

	return refetchCmd
}

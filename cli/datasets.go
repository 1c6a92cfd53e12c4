package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"quantflow/consolidate"
	"quantflow/models"
	"quantflow/quality"
)

// datasetArg resolves the optional positional dataset argument. No
// argument and the literal "all" both select every dataset.
func datasetArg(args []string) ([]string, error) {
	if len(args) == 0 || args[0] == "all" {
		return models.DatasetNames(), nil
	}
	if _, ok := models.DatasetByName(args[0]); !ok {
		return nil, fmt.Errorf("unknown dataset %s", args[0])
	}
	return []string{args[0]}, nil
}

func newTransformCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "transform [dataset|all]",
		Short: "Consolidate raw payloads into deduplicated final tables",
		Long: `Transform reads every raw file of a dataset's endpoints, drops sentinel
rows, resolves duplicate natural keys by endpoint precedence and rebuilds
the final parquet table in place.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			builder := consolidate.NewConsolidator(a.store)
			if len(args) == 0 || args[0] == "all" {
				return builder.BuildAll(cmd.Context())
			}
			_, err := builder.Build(cmd.Context(), args[0])
			return err
		},
	}
}

func newQualityCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quality [dataset|all]",
		Short: "Run quality rules against the final tables",
		Long: `Quality checks completeness against the membership roster, consistency of
natural keys and price ranges, and value bounds. Violations are reported,
never repaired.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			datasets, err := datasetArg(args)
			if err != nil {
				return err
			}
			all := len(args) == 0 || args[0] == "all"

			checker := quality.NewChecker(a.store)
			total := 0
			for _, name := range datasets {
				violations, err := checker.Check(name)
				if err != nil {
					// Datasets not consolidated yet have no table to check.
					if all && errors.Is(err, os.ErrNotExist) {
						continue
					}
					return err
				}
				for _, v := range violations {
					fmt.Fprintln(cmd.OutOrStdout(), v.String())
				}
				total += len(violations)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d violations\n", total)
			return nil
		},
	}
}

func newCleanCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [dataset|all]",
		Short: "Strip invalid-call rows from final tables",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			datasets, err := datasetArg(args)
			if err != nil {
				return err
			}
			builder := consolidate.NewConsolidator(a.store)
			total := 0
			for _, name := range datasets {
				removed, err := builder.CleanInvalid(name)
				if err != nil {
					return err
				}
				total += removed
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d invalid rows\n", total)
			return nil
		},
	}
}

func newGetCmd(a *App) *cobra.Command {
	var (
		tickers []string
		start   string
		end     string
		out     string
	)

	getCmd := &cobra.Command{
		Use:   "get <dataset>",
		Short: "Query a final table as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime, err := parseDate("start", start)
			if err != nil {
				return err
			}
			endTime, err := parseDate("end", end)
			if err != nil {
				return err
			}

			builder := consolidate.NewConsolidator(a.store)
			header, records, err := builder.Read(args[0], tickers, startTime, endTime)
			if err != nil {
				return err
			}
			return writeCSV(cmd, out, header, records)
		},
	}

	getCmd.Flags().StringSliceVar(&tickers, "tickers", nil, "restrict to these tickers; default keeps all")
	getCmd.Flags().StringVar(&start, "start", "", "earliest date to include (YYYY-MM-DD)")
	getCmd.Flags().StringVar(&end, "end", "", "latest date to include (YYYY-MM-DD)")
	getCmd.Flags().StringVar(&out, "out", "", "write CSV to this file instead of stdout")

	return getCmd
}

func writeCSV(cmd *cobra.Command, out string, header []string, records [][]string) error {
	if out == "" {
		return emitCSV(cmd.OutOrStdout(), header, records)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := emitCSV(f, header, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func emitCSV(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	return cw.WriteAll(records)
}

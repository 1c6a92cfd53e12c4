package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quantflow/config"
	"quantflow/ingest"
	"quantflow/models"
	"quantflow/provider"
	"quantflow/research"
)

type ingestOptions struct {
	tickers []string
	start   string
	end     string
	pacing  time.Duration
	premium bool
	resume  bool
}

func newIngestCmd(a *App) *cobra.Command {
	var opts ingestOptions

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch raw payloads for every entity and endpoint",
		Long: `Ingest lands one raw parquet file per (entity, endpoint) pair. Without
--tickers the entity universe is resolved from the research warehouse
membership table for the given window. Failed provider calls are stored
as sentinel rows and the run continues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runIngest(cmd, opts)
		},
	}

	ingestCmd.Flags().StringSliceVar(&opts.tickers, "tickers", nil, "explicit ticker list; default resolves the universe from the research warehouse")
	ingestCmd.Flags().StringVar(&opts.start, "start", "", "window start (YYYY-MM-DD); defaults to the datalist start date")
	ingestCmd.Flags().StringVar(&opts.end, "end", "", "window end (YYYY-MM-DD); defaults to the datalist end date")
	ingestCmd.Flags().DurationVar(&opts.pacing, "pacing", 0, "delay between provider calls; defaults to pipeline.pacing")
	ingestCmd.Flags().BoolVar(&opts.premium, "premium-key", false, "use the premium provider API key")
	ingestCmd.Flags().BoolVar(&opts.resume, "resume", true, "skip pairs whose raw file already holds rows")

	return ingestCmd
}

func (a *App) runIngest(cmd *cobra.Command, opts ingestOptions) error {
	dl, err := config.LoadDatalist(a.cfg.Pipeline.Datalist)
	if err != nil {
		return err
	}

	if opts.start == "" {
		opts.start = dl.Defaults.StartDate
	}
	if opts.end == "" {
		opts.end = dl.Defaults.EndDate
	}
	start, err := parseDate("start", opts.start)
	if err != nil {
		return err
	}
	end, err := parseDate("end", opts.end)
	if err != nil {
		return err
	}

	symbols := normalizeTickers(opts.tickers)
	if len(symbols) == 0 && (start.IsZero() || end.IsZero()) {
		return fmt.Errorf("membership resolution needs a window: pass --start and --end or set datalist defaults")
	}

	endpoints, err := selectEndpoints(dl)
	if err != nil {
		return err
	}

	creds, err := config.LoadCredentials("")
	if err != nil {
		return err
	}
	source, err := a.providerSource(creds, opts.premium)
	if err != nil {
		return err
	}

	var warehouse research.Warehouse
	if len(symbols) == 0 {
		client, err := research.Connect(a.cfg.Research, creds.Research.Username, creds.Research.Password)
		if err != nil {
			return fmt.Errorf("failed to connect to research warehouse: %w", err)
		}
		defer client.Close()
		warehouse = client
	}

	pacing := opts.pacing
	if pacing <= 0 {
		pacing = a.cfg.Pipeline.Pacing
	}

	orch := ingest.NewOrchestrator(a.cfg, a.store, source, warehouse)
	return orch.Run(cmd.Context(), ingest.RunSpec{
		Symbols:   symbols,
		Endpoints: endpoints,
		Start:     start,
		End:       end,
		Resume:    opts.resume,
		Pacing:    pacing,
	})
}

// providerSource builds the REST client with the selected API key.
func (a *App) providerSource(creds *config.Credentials, premium bool) (provider.Source, error) {
	apiKey := creds.ProviderAPIKey(premium)
	if apiKey == "" {
		return nil, fmt.Errorf("no provider API key configured")
	}
	return provider.NewRESTClient(a.cfg.Provider, apiKey), nil
}

// selectEndpoints applies the datalist overrides per payload family. An
// empty override list keeps the family's built-in endpoint set.
func selectEndpoints(dl *config.Datalist) ([]models.Endpoint, error) {
	families := []struct {
		names    []string
		defaults []models.Endpoint
	}{
		{dl.Endpoints.TimeSeries, models.TimeSeriesEndpoints},
		{dl.Endpoints.Fundamentals, models.FundamentalEndpoints},
		{dl.Endpoints.EconomicIndicators, models.EconomicEndpoints},
	}

	var out []models.Endpoint
	for _, family := range families {
		if len(family.names) == 0 {
			out = append(out, family.defaults...)
			continue
		}
		for _, name := range family.names {
			ep, ok := models.EndpointByName(name)
			if !ok {
				return nil, fmt.Errorf("datalist names unknown endpoint %s", name)
			}
			out = append(out, ep)
		}
	}
	return out, nil
}

func normalizeTickers(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if s := models.NormalizeSymbol(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

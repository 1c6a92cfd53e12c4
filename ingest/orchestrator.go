// Package ingest drives the fetch loop: entities outer, endpoints inner,
// in a fixed order so an interrupted run leaves a predictable prefix
// complete and a resumed run picks up exactly where it stopped.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"quantflow/config"
	"quantflow/logger"
	"quantflow/membership"
	"quantflow/models"
	"quantflow/provider"
	"quantflow/rawstore"
	"quantflow/research"
)

// RunSpec describes one ingestion run. When Symbols is empty the run
// resolves the entity universe from the research warehouse first.
type RunSpec struct {
	Symbols   []string
	Endpoints []models.Endpoint
	Start     time.Time
	End       time.Time
	Resume    bool
	Pacing    time.Duration
}

// Key identifies one stored payload for targeted refetching.
type Key struct {
	Entity   string
	Endpoint models.Endpoint
}

// Orchestrator coordinates membership landing and the paced fetch loop.
type Orchestrator struct {
	config    *config.Config
	store     *rawstore.Store
	source    provider.Source
	warehouse research.Warehouse
	resolver  *membership.Resolver

	mu      sync.Mutex
	running bool

	log *logger.Log
}

// NewOrchestrator wires the fetch loop. warehouse may be nil when the run
// supplies its own symbol list.
func NewOrchestrator(cfg *config.Config, store *rawstore.Store, source provider.Source, warehouse research.Warehouse) *Orchestrator {
	return &Orchestrator{
		config:    cfg,
		store:     store,
		source:    source,
		warehouse: warehouse,
		resolver:  membership.NewResolver(),
		log:       logger.GetLogger(),
	}
}

// Run executes one full ingestion pass: land membership artifacts and
// factor returns, then fetch every (entity, endpoint) pair. A provider
// failure becomes a stored sentinel and the loop continues; a storage
// failure aborts the run.
func (o *Orchestrator) Run(ctx context.Context, spec RunSpec) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("ingestion already running")
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	log := o.log.WithComponent("ingest").WithFields(logger.Fields{"operation": "run"})

	if len(spec.Symbols) == 0 {
		symbols, err := o.landMembership(ctx, spec.Start, spec.End)
		if err != nil {
			return err
		}
		spec.Symbols = symbols
	}
	o.landFactors(ctx, spec.Start, spec.End)

	symbolEndpoints, globalEndpoints := splitEndpoints(spec.Endpoints)
	log.WithFields(logger.Fields{
		"symbols":          len(spec.Symbols),
		"symbol_endpoints": len(symbolEndpoints),
		"global_endpoints": len(globalEndpoints),
		"resume":           spec.Resume,
		"pacing":           spec.Pacing.String(),
	}).Info("Starting ingestion run")

	limiter := rate.NewLimiter(rate.Every(spec.Pacing), 1)
	start := time.Now()
	var fetched, skipped, failed int

	for _, symbol := range spec.Symbols {
		for _, ep := range symbolEndpoints {
			outcome, err := o.fetchOne(ctx, limiter, symbol, ep, spec)
			if err != nil {
				return err
			}
			outcome.tally(&fetched, &skipped, &failed)
		}
	}
	for _, ep := range globalEndpoints {
		outcome, err := o.fetchOne(ctx, limiter, models.GlobalEntity, ep, spec)
		if err != nil {
			return err
		}
		outcome.tally(&fetched, &skipped, &failed)
	}

	duration := time.Since(start)
	log.WithFields(logger.Fields{
		"fetched":  fetched,
		"skipped":  skipped,
		"failed":   failed,
		"duration": duration.String(),
	}).Info("Ingestion run complete")

	logger.LogPerformanceEntry(log, "ingest", "run", duration, logger.Fields{
		"symbols": len(spec.Symbols),
		"fetched": fetched,
		"skipped": skipped,
	})
	o.log.LogMetric("ingest", "pairs_fetched", fetched, "counter", logger.Fields{})
	o.log.LogMetric("ingest", "pairs_skipped", skipped, "counter", logger.Fields{})
	o.log.LogMetric("ingest", "pairs_failed", failed, "counter", logger.Fields{})
	return nil
}

// FetchKeys re-fetches exactly the given keys, always overwriting what is
// stored. Keys outside the list are never touched.
func (o *Orchestrator) FetchKeys(ctx context.Context, keys []Key, pacing time.Duration) error {
	log := o.log.WithComponent("ingest").WithFields(logger.Fields{"operation": "refetch"})
	log.WithFields(logger.Fields{"keys": len(keys), "pacing": pacing.String()}).Info("Refetching keys")

	limiter := rate.NewLimiter(rate.Every(pacing), 1)
	var fetched, failed int
	for _, key := range keys {
		outcome, err := o.fetchOne(ctx, limiter, key.Entity, key.Endpoint, RunSpec{Pacing: pacing})
		if err != nil {
			return err
		}
		var skipped int
		outcome.tally(&fetched, &skipped, &failed)
	}

	log.WithFields(logger.Fields{"fetched": fetched, "failed": failed}).Info("Refetch complete")
	return nil
}

type fetchOutcome int

const (
	outcomeFetched fetchOutcome = iota
	outcomeSkipped
	outcomeFailed
)

func (f fetchOutcome) tally(fetched, skipped, failed *int) {
	switch f {
	case outcomeFetched:
		*fetched++
	case outcomeSkipped:
		*skipped++
	case outcomeFailed:
		*failed++
	}
}

// fetchOne handles a single (entity, endpoint) pair. Pacing applies only
// when a call actually goes out, never around resumed skips.
func (o *Orchestrator) fetchOne(ctx context.Context, limiter *rate.Limiter, entity string, ep models.Endpoint, spec RunSpec) (fetchOutcome, error) {
	log := o.log.WithComponent("ingest").WithFields(logger.Fields{
		"endpoint": ep.Name,
		"entity":   entity,
	})

	if spec.Resume && o.store.Exists(entity, ep.Name) {
		logger.IncrementSkip()
		log.Debug("Already fetched, skipping")
		return outcomeSkipped, nil
	}

	if err := limiter.Wait(ctx); err != nil {
		return outcomeFailed, err
	}
	result, err := o.source.Fetch(ctx, ep, entity)
	if err != nil {
		return outcomeFailed, err
	}

	rows := result.StorageRows(entity)
	outcome := outcomeFetched
	if result.Failed() {
		logger.IncrementSentinel()
		log.WithFields(logger.Fields{"error_sample": result.ErrMessage}).Warn("Provider call failed, sentinel stored")
		outcome = outcomeFailed
	} else {
		rows = filterWindow(ep, rows, spec.Start, spec.End)
	}

	if err := o.store.Write(entity, ep.Name, rows); err != nil {
		log.WithError(err).Error("Raw store write failed, aborting run")
		return outcomeFailed, err
	}
	logger.LogDataFlowEntry(log, "provider_api", "data-raw", len(rows), "field_rows")
	return outcome, nil
}

// landMembership resolves the entity universe from the warehouse and
// stores the roster and ticker artifacts before any fetching starts.
func (o *Orchestrator) landMembership(ctx context.Context, start, end time.Time) ([]string, error) {
	if o.warehouse == nil {
		return nil, fmt.Errorf("no symbols given and no research warehouse configured")
	}
	log := o.log.WithComponent("ingest").WithFields(logger.Fields{"operation": "land_membership"})

	intervals, err := o.warehouse.FetchMemberships(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch memberships: %w", err)
	}
	mappings, err := o.warehouse.FetchSymbolMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch symbol mappings: %w", err)
	}

	roster, err := o.resolver.Resolve(intervals, mappings, start, end)
	if err != nil {
		return nil, err
	}
	if err := o.store.WriteRoster(roster.Rows); err != nil {
		return nil, err
	}
	if err := o.store.WriteTickers(roster.Symbols); err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"roster_rows": len(roster.Rows),
		"symbols":     len(roster.Symbols),
		"gaps":        len(roster.Gaps),
	}).Info("Membership artifacts stored")
	return roster.Symbols, nil
}

// landFactors stores the research factor series. The series is a
// supplement, so a warehouse failure here only warns.
func (o *Orchestrator) landFactors(ctx context.Context, start, end time.Time) {
	if o.warehouse == nil {
		return
	}
	log := o.log.WithComponent("ingest").WithFields(logger.Fields{"operation": "land_factors"})

	rows, err := o.warehouse.FetchFactorReturns(ctx, start, end)
	if err != nil {
		log.WithError(err).Warn("Factor returns unavailable, continuing without them")
		return
	}
	if len(rows) == 0 {
		return
	}
	if err := o.store.WriteFactors(rows); err != nil {
		log.WithError(err).Warn("Failed to store factor returns")
		return
	}
	log.WithFields(logger.Fields{"rows": len(rows)}).Info("Factor returns stored")
}

// splitEndpoints partitions the run's endpoints into per-symbol calls and
// global series fetched once, preserving the given order within each group.
func splitEndpoints(endpoints []models.Endpoint) (symbol, global []models.Endpoint) {
	for _, ep := range endpoints {
		if ep.Kind == models.EconomicKind {
			global = append(global, ep)
		} else {
			symbol = append(symbol, ep)
		}
	}
	return symbol, global
}

// filterWindow keeps dated rows inside [start, end]. Fundamentals carry
// fiscal dates whose usefulness does not depend on the run window, so only
// time-series and economic payloads are filtered. When the provider
// answers entirely outside the window the unfiltered payload is kept
// rather than storing an empty file that resume would refetch forever.
func filterWindow(ep models.Endpoint, rows []models.FieldRow, start, end time.Time) []models.FieldRow {
	if ep.Kind == models.FundamentalKind || start.IsZero() || end.IsZero() {
		return rows
	}
	lo := start.Format("2006-01-02")
	hi := end.Format("2006-01-02")

	filtered := make([]models.FieldRow, 0, len(rows))
	for _, row := range rows {
		if row.Date == "" || (row.Date >= lo && row.Date <= hi) {
			filtered = append(filtered, row)
		}
	}
	if len(filtered) == 0 {
		return rows
	}
	return filtered
}

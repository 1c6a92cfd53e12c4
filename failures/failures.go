// Package failures surfaces stored provider failures and replays them.
// Failure entries are always recomputed by scanning raw records for the
// error sentinel, so the export is a view, never a second source of truth.
package failures

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quantflow/consolidate"
	"quantflow/ingest"
	"quantflow/logger"
	"quantflow/models"
	"quantflow/rawstore"
)

// Index scans the raw store for failure sentinels.
type Index struct {
	store   *rawstore.Store
	baseURL string
	log     *logger.Log
}

func NewIndex(store *rawstore.Store, baseURL string) *Index {
	return &Index{store: store, baseURL: baseURL, log: logger.GetLogger()}
}

// Scan returns one replayable entry per stored sentinel. dataset narrows
// the scan to one dataset's endpoints; empty or "all" scans everything.
// Membership artifacts never enter the scan.
func (ix *Index) Scan(dataset string) ([]models.FailureEntry, error) {
	records, err := ix.records(dataset)
	if err != nil {
		return nil, err
	}

	var entries []models.FailureEntry
	for _, rec := range records {
		if !models.HasError(rec.Rows) {
			continue
		}
		entries = append(entries, ix.newEntry(rec))
	}

	ix.log.WithComponent("failures").WithFields(logger.Fields{
		"operation": "scan",
		"dataset":   dataset,
		"records":   len(records),
		"failures":  len(entries),
	}).Info("Failure scan complete")
	return entries, nil
}

func (ix *Index) records(dataset string) ([]rawstore.Record, error) {
	if dataset == "" || dataset == "all" {
		return ix.store.Scan()
	}
	ds, ok := models.DatasetByName(dataset)
	if !ok {
		return nil, fmt.Errorf("unknown dataset %s", dataset)
	}
	var records []rawstore.Record
	for _, epName := range ds.Endpoints {
		recs, err := ix.store.ReadAll(epName)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (ix *Index) newEntry(rec rawstore.Record) models.FailureEntry {
	function := rec.Endpoint
	if ep, ok := models.EndpointByName(rec.Endpoint); ok {
		function = ep.Function
	}
	return models.FailureEntry{
		Ticker:      rec.Entity,
		Endpoint:    rec.Endpoint,
		Path:        rec.Path,
		APIURL:      fmt.Sprintf("%s?function=%s&symbol=%s&apikey=YOUR_KEY", ix.baseURL, function, rec.Entity),
		ErrorSample: models.FirstError(rec.Rows),
	}
}

// Export writes entries as a CSV consumable by Refetch.
func Export(entries []models.FailureEntry, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(models.FailureCSVHeader); err != nil {
		return fmt.Errorf("failed to write failure header: %w", err)
	}
	for _, e := range entries {
		if err := w.Write([]string{e.Ticker, e.Endpoint, e.Path, e.APIURL, e.ErrorSample}); err != nil {
			return fmt.Errorf("failed to write failure row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Close()
}

// Load reads an exported failure CSV back into entries. Columns are
// matched by header name, so column order does not matter.
func Load(path string) ([]models.FailureEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, required := range []string{"ticker", "function"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("failure file %s missing column %s", path, required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var entries []models.FailureEntry
	for _, row := range rows[1:] {
		entries = append(entries, models.FailureEntry{
			Ticker:      field(row, "ticker"),
			Endpoint:    field(row, "function"),
			Path:        field(row, "path"),
			APIURL:      field(row, "api_url"),
			ErrorSample: field(row, "error_sample"),
		})
	}
	return entries, nil
}

// Refetcher replays failure entries and rebuilds the datasets they touch.
type Refetcher struct {
	orch    *ingest.Orchestrator
	builder *consolidate.Consolidator
	log     *logger.Log
}

func NewRefetcher(orch *ingest.Orchestrator, builder *consolidate.Consolidator) *Refetcher {
	return &Refetcher{orch: orch, builder: builder, log: logger.GetLogger()}
}

// Refetch re-runs exactly the listed keys with resume off, then rebuilds
// only the datasets those keys belong to.
func (r *Refetcher) Refetch(ctx context.Context, entries []models.FailureEntry, pacing time.Duration) error {
	keys, datasets, err := replayKeys(entries)
	if err != nil {
		return err
	}
	log := r.log.WithComponent("failures").WithFields(logger.Fields{"operation": "refetch"})
	if len(keys) == 0 {
		log.Info("No failure entries to replay")
		return nil
	}

	if err := r.orch.FetchKeys(ctx, keys, pacing); err != nil {
		return err
	}
	for _, dataset := range datasets {
		if _, err := r.builder.Build(ctx, dataset); err != nil {
			return err
		}
	}

	log.WithFields(logger.Fields{
		"keys":     len(keys),
		"datasets": datasets,
	}).Info("Refetch complete")
	return nil
}

// replayKeys turns entries into deduplicated fetch keys plus the affected
// dataset names in registry order.
func replayKeys(entries []models.FailureEntry) ([]ingest.Key, []string, error) {
	seen := make(map[string]bool)
	affected := make(map[string]bool)
	var keys []ingest.Key

	for _, e := range entries {
		ep, ok := models.EndpointByName(e.Endpoint)
		if !ok {
			return nil, nil, fmt.Errorf("failure entry names unknown endpoint %s", e.Endpoint)
		}
		id := e.Ticker + "\x1f" + ep.Name
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, ingest.Key{Entity: e.Ticker, Endpoint: ep})
		if ds, ok := models.DatasetForEndpoint(ep.Name); ok {
			affected[ds.Name] = true
		}
	}

	var datasets []string
	for _, name := range models.DatasetNames() {
		if affected[name] {
			datasets = append(datasets, name)
		}
	}
	return keys, datasets, nil
}
